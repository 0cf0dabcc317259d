// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette for the chat UI. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Role label colors.
	UserLabel      lipgloss.Color
	AssistantLabel lipgloss.Color

	// Message state accents.
	StreamingText lipgloss.Color
	ErrorText     lipgloss.Color
	PendingText   lipgloss.Color

	// Connection state colors for the status bar.
	StateConnected    lipgloss.Color
	StateConnecting   lipgloss.Color
	StateReconnecting lipgloss.Color
	StateClosed       lipgloss.Color

	// UI chrome.
	BorderColor lipgloss.Color
	HelpText    lipgloss.Color
	StatusBarBackground lipgloss.Color
}

// DefaultTheme is the standard dark-terminal palette.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("243"),

	UserLabel:      lipgloss.Color("39"),
	AssistantLabel: lipgloss.Color("213"),

	StreamingText: lipgloss.Color("250"),
	ErrorText:     lipgloss.Color("203"),
	PendingText:   lipgloss.Color("245"),

	StateConnected:    lipgloss.Color("35"),
	StateConnecting:   lipgloss.Color("178"),
	StateReconnecting: lipgloss.Color("208"),
	StateClosed:       lipgloss.Color("243"),

	BorderColor: lipgloss.Color("238"),
	HelpText:    lipgloss.Color("243"),
	StatusBarBackground: lipgloss.Color("236"),
}
