// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Conversation management subcommands.
//
// Commands:
//   expertdesk conversations list [--refresh]
//   expertdesk conversations delete <id>
//   expertdesk conversations rename <id> <title...>

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newConversationsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}
	cmd.AddCommand(newConversationsListCmd(configPath))
	cmd.AddCommand(newConversationsDeleteCmd(configPath))
	cmd.AddCommand(newConversationsRenameCmd(configPath))
	return cmd
}

func newConversationsListCmd(configPath *string) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.store.Hydrate(ctx)
			if _, err := a.store.LoadConversations(ctx, refresh); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("using cached data: "+err.Error()))
			}

			convs := a.store.Conversations()
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-16s %-32s %-17s %s\n", "ID", "SERVICE", "TITLE", "UPDATED", "MESSAGES")
			for _, c := range convs {
				fmt.Fprintf(out, "%-6d %-16s %-32s %-17s %d\n",
					c.ID, c.Service, truncate(c.Title, 32),
					c.LastUpdated.Local().Format("2006-01-02 15:04"), len(c.Messages))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the load cooldown and refetch")
	return cmd
}

func newConversationsDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.store.Hydrate(ctx)
			if _, err := a.store.LoadConversations(ctx, false); err != nil {
				return err
			}
			if err := a.store.RemoveConversation(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted conversation %d\n", id)
			return nil
		},
	}
}

func newConversationsRenameCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			title := strings.Join(args[1:], " ")

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.store.Hydrate(ctx)
			if _, err := a.store.LoadConversations(ctx, false); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("using cached data: "+err.Error()))
			}
			if err := a.store.UpdateConversationTitle(id, title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed conversation %d to %q\n", id, title)
			return nil
		},
	}
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
