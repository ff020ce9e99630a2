// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06B6D4")).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A855F7")).
			Bold(true)

	// Secondary info style
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94A3B8"))

	// Slash-command style
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	// Assistant reply style
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E2E8F0"))
)
