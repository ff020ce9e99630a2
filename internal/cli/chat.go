// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for expertdesk.
//
// Handles the "expertdesk chat" command which provides an interactive REPL
// against the backend chat services.
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new [service]      Start a new conversation
//   /list, /l           List conversations
//   /select N           Switch to conversation N
//   /services           List available services
//   /title TEXT         Rename the current conversation
//   /quit, /q           Exit chat
//   Ctrl+C, Ctrl+D      Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/expertdesk/internal/config"
	"github.com/jeranaias/expertdesk/internal/model"
	"github.com/jeranaias/expertdesk/internal/store"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// chatInput provides line editing and persistent input history for the
// interactive prompt.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput() *chatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	in := &chatInput{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	in.loadHistory()
	return in
}

func (c *chatInput) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// readInput reads one line with arrow-key history navigation. Non-empty
// lines are appended to the history.
func (c *chatInput) readInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *chatInput) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

func (c *chatInput) close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCmd(configPath *string) *cobra.Command {
	var serviceName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  "Opens an interactive prompt against the backend chat services.\nConversations survive restarts via the local cache.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd, a, serviceName)
		},
	}
	cmd.Flags().StringVarP(&serviceName, "service", "s", "", "service for new conversations (default from config)")
	return cmd
}

func runChat(cmd *cobra.Command, a *app, serviceName string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	service, err := resolveService(serviceName, a.cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, welcomeStyle.Render("expertdesk chat"))
	fmt.Fprintln(out, infoStyle.Render("Type /help for commands, /quit to exit."))

	// Cached conversations appear immediately; the network load replaces
	// them when it lands.
	a.store.Hydrate(ctx)
	if _, err := a.session.Token(ctx); err != nil {
		fmt.Fprintln(out, warningStyle.Render("session unavailable: "+err.Error()))
	}
	if _, err := a.store.LoadConversations(ctx, false); err != nil {
		fmt.Fprintln(out, warningStyle.Render("could not load conversations: "+err.Error()))
	}

	conv, err := currentConversation(ctx, a, service)
	if err != nil {
		return err
	}
	printConversationHeader(out, conv)

	input := newChatInput()
	defer input.close()

	for {
		line, err := input.readInput(promptStyle.Render("you> "))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out, infoStyle.Render("bye"))
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := handleSlashCommand(ctx, out, a, line, service)
			if err != nil {
				fmt.Fprintln(out, warningStyle.Render(err.Error()))
				continue
			}
			if quit {
				return nil
			}
			// The command may have switched or created a conversation.
			if sel, ok := a.store.Selected(); ok {
				conv = sel
			}
			continue
		}

		updated, err := sendAndRender(ctx, out, a, conv.ID, line)
		if err != nil {
			fmt.Fprintln(out, warningStyle.Render(err.Error()))
		}
		if updated != nil {
			conv = updated
		}
	}
}

// currentConversation returns the selected conversation, creating one when
// nothing is selected yet.
func currentConversation(ctx context.Context, a *app, service model.ServiceID) (*model.Conversation, error) {
	if conv, ok := a.store.Selected(); ok {
		return conv, nil
	}
	return createConversation(ctx, a, service)
}

func createConversation(ctx context.Context, a *app, service model.ServiceID) (*model.Conversation, error) {
	svc, _ := model.ServiceByID(service)
	conv, err := a.store.CreateConversation(ctx, service, store.CreateOptions{
		Language:             a.cfg.Backend.Language,
		UserID:               a.cfg.Backend.UserID,
		Domain:               svc.Domain,
		UseRAG:               a.cfg.Chat.UseRAG,
		UseDeepseekReasoning: a.cfg.Chat.UseDeepseekReasoning,
	})
	if err != nil {
		return nil, err
	}
	if err := a.store.SelectConversation(conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// sendAndRender runs one message turn: optimistic send, asynchronous poll
// when needed, then prints the assistant reply.
func sendAndRender(ctx context.Context, out io.Writer, a *app, conversationID int64, content string) (*model.Conversation, error) {
	res, err := a.delivery.Send(ctx, conversationID, content)
	if err != nil {
		return reload(a, conversationID), err
	}

	if res.Pending != nil {
		fmt.Fprintln(out, infoStyle.Render("thinking..."))
		state, err := a.poller.Poll(ctx, res.Pending)
		if err != nil {
			return reload(a, conversationID), err
		}
		if state != model.DeliveryCompleted {
			return reload(a, conversationID), fmt.Errorf("delivery ended in state %q", state)
		}
	}

	conv := reload(a, conversationID)
	if conv == nil {
		return nil, fmt.Errorf("conversation %d disappeared", conversationID)
	}
	printLatestAssistant(out, conv)
	return conv, nil
}

func reload(a *app, id int64) *model.Conversation {
	conv, ok := a.store.Conversation(id)
	if !ok {
		return nil
	}
	return conv
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand dispatches one /command. It returns true when the
// session should end.
func handleSlashCommand(ctx context.Context, out io.Writer, a *app, line string, defaultService model.ServiceID) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		fmt.Fprintln(out, infoStyle.Render("bye"))
		return true, nil

	case "/help", "/h":
		printChatHelp(out)
		return false, nil

	case "/new":
		service := defaultService
		if len(args) > 0 {
			var err error
			if service, err = resolveService(args[0], a.cfg); err != nil {
				return false, err
			}
		}
		conv, err := createConversation(ctx, a, service)
		if err != nil {
			return false, err
		}
		printConversationHeader(out, conv)
		return false, nil

	case "/list", "/l":
		printConversationList(out, a.store.Conversations())
		return false, nil

	case "/select":
		if len(args) == 0 {
			return false, errors.New("usage: /select <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid conversation id %q", args[0])
		}
		if err := a.store.SelectConversation(id); err != nil {
			return false, err
		}
		conv, _ := a.store.Selected()
		printConversationHeader(out, conv)
		printHistory(out, conv)
		return false, nil

	case "/services":
		for _, svc := range model.Services {
			fmt.Fprintf(out, "  %s  %s\n", commandStyle.Render(string(svc.ID)), infoStyle.Render(svc.Name))
		}
		return false, nil

	case "/title":
		if len(args) == 0 {
			return false, errors.New("usage: /title <new title>")
		}
		sel, ok := a.store.Selected()
		if !ok {
			return false, errors.New("no conversation selected")
		}
		title := strings.Join(args, " ")
		if err := a.store.UpdateConversationTitle(sel.ID, title); err != nil {
			return false, err
		}
		fmt.Fprintln(out, infoStyle.Render("renamed to "+title))
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func printChatHelp(out io.Writer) {
	help := [][2]string{
		{"/help, /h", "show this help"},
		{"/new [service]", "start a new conversation"},
		{"/list, /l", "list conversations"},
		{"/select N", "switch to conversation N"},
		{"/services", "list available services"},
		{"/title TEXT", "rename the current conversation"},
		{"/quit, /q", "exit chat"},
	}
	for _, h := range help {
		fmt.Fprintf(out, "  %-18s %s\n", commandStyle.Render(h[0]), infoStyle.Render(h[1]))
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func printConversationHeader(out io.Writer, conv *model.Conversation) {
	svc, _ := model.ServiceByID(conv.Service)
	fmt.Fprintf(out, "%s %s\n",
		welcomeStyle.Render(fmt.Sprintf("[%d] %s", conv.ID, conv.Title)),
		infoStyle.Render("("+svc.Name+")"))
}

func printHistory(out io.Writer, conv *model.Conversation) {
	for _, msg := range conv.Messages {
		printMessage(out, msg)
	}
}

func printLatestAssistant(out io.Writer, conv *model.Conversation) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == model.RoleAssistant {
			printMessage(out, conv.Messages[i])
			return
		}
	}
}

func printMessage(out io.Writer, msg model.Message) {
	switch msg.Role {
	case model.RoleUser:
		fmt.Fprintln(out, promptStyle.Render("you> ")+msg.Content)
	default:
		fmt.Fprintln(out, assistantStyle.Render(msg.Content))
		for _, snip := range msg.ContextData {
			fmt.Fprintln(out, infoStyle.Render("  · "+snip.Source))
		}
	}
	if msg.LocalStatus == model.StatusFailed {
		fmt.Fprintln(out, warningStyle.Render("  (delivery failed)"))
	}
}

func printConversationList(out io.Writer, convs []model.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(out, infoStyle.Render("no conversations"))
		return
	}
	for _, c := range convs {
		fmt.Fprintf(out, "  %4d  %-12s %s %s\n",
			c.ID, c.Service, c.Title,
			infoStyle.Render(c.LastUpdated.Local().Format("2006-01-02 15:04")))
	}
}

// resolveService maps a flag or slash-command argument to a service id,
// falling back to the configured default.
func resolveService(name string, cfg *config.Config) (model.ServiceID, error) {
	if name == "" {
		name = cfg.Chat.DefaultService
	}
	id := model.ServiceID(name)
	if !id.Valid() {
		return "", fmt.Errorf("unknown service %q", name)
	}
	return id, nil
}
