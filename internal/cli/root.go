// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCmd builds the expertdesk command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "expertdesk",
		Short:         "Expertdesk — terminal client for the expert chat backend",
		Long:          "Expertdesk talks to the expert consultation backend: session handling,\nconversation management, and message delivery with asynchronous polling.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ~/.expertdesk/config.toml)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd(&configPath))
	cmd.AddCommand(newConversationsCmd(&configPath))
	cmd.AddCommand(newSessionCmd(&configPath))
	cmd.AddCommand(newStatusCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expertdesk %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}
