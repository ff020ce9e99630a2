// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session.go - Session token subcommands.
//
// Commands:
//   expertdesk session show
//   expertdesk session reset

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the backend session",
	}
	cmd.AddCommand(newSessionShowCmd(configPath))
	cmd.AddCommand(newSessionResetCmd(configPath))
	return cmd
}

func newSessionShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.session.Token(cmd.Context()); err != nil {
				return err
			}
			tok := a.session.Current()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:       %s\n", shortToken(tok.Value))
			if tok.UserID != "" {
				fmt.Fprintf(out, "user:        %s\n", tok.UserID)
			}
			if !tok.InitializedAt.IsZero() {
				fmt.Fprintf(out, "initialized: %s\n", tok.InitializedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSessionResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the session and obtain a fresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.session.Reset(ctx)
			if _, err := a.session.Token(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new token: %s\n", shortToken(a.session.Current().Value))
			return nil
		},
	}
}

// shortToken keeps enough of the token to recognize it without printing
// the whole credential.
func shortToken(v string) string {
	if v == "" {
		return "(none)"
	}
	if len(v) <= 12 {
		return v
	}
	return v[:8] + "…" + v[len(v)-4:]
}
