// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/threadline-dev/threadline/conversation"
	"github.com/threadline-dev/threadline/lib/ref"
	"github.com/threadline-dev/threadline/session"
)

// refreshInterval is how often the viewport re-renders the resolved
// branch while streamed sentences are arriving.
const refreshInterval = 200 * time.Millisecond

// Actions is the slice of the sync session the UI drives. Satisfied
// by *session.Session; tests substitute a fake.
type Actions interface {
	SendText(ctx context.Context, text string) (ref.MessageID, error)
	StopStreaming(ctx context.Context, target ref.MessageID) error
	State() session.State
	Subscribe() (<-chan session.State, func())
}

// stateMsg wraps a session state change for the bubbletea loop.
type stateMsg struct {
	state session.State
}

// refreshTickMsg drives the periodic branch re-render.
type refreshTickMsg struct{}

// sendResultMsg reports an asynchronous SendText outcome. On success
// err is nil and the next refresh shows the optimistic message.
type sendResultMsg struct {
	err error
}

// Model is the bubbletea model for one conversation.
type Model struct {
	actions        Actions
	store          *conversation.Store
	conversationID ref.ConversationID
	theme          Theme

	viewport viewport.Model
	input    textarea.Model

	stateEvents  <-chan session.State
	unsubscribe  func()
	currentState session.State

	width  int
	height int
	ready  bool

	// notice is a transient status-bar message (send failures).
	notice string
}

// NewModel creates a model bound to the store and session of one
// conversation. Call the returned Model's cleanup via Close after the
// program exits.
func NewModel(actions Actions, store *conversation.Store, conversationID ref.ConversationID) Model {
	input := textarea.New()
	input.Placeholder = "Type a message (enter to send, ctrl+c to quit)"
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.Focus()

	events, unsubscribe := actions.Subscribe()
	return Model{
		actions:        actions,
		store:          store,
		conversationID: conversationID,
		theme:          DefaultTheme,
		input:          input,
		stateEvents:    events,
		unsubscribe:    unsubscribe,
		currentState:   actions.State(),
	}
}

// Close releases the session subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForState(m.stateEvents),
		scheduleRefresh(),
		textarea.Blink,
	)
}

func listenForState(events <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		state, ok := <-events
		if !ok {
			return nil
		}
		return stateMsg{state: state}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// Update implements tea.Model.
func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		m.width = message.Width
		m.height = message.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch message.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "esc":
			m.stopStreaming()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(message)
		return m, cmd

	case stateMsg:
		m.currentState = message.state
		return m, listenForState(m.stateEvents)

	case refreshTickMsg:
		m.refresh()
		return m, scheduleRefresh()

	case sendResultMsg:
		if message.err != nil {
			m.notice = fmt.Sprintf("send failed: %v", message.err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(message)
	return m, cmd
}

// submit sends the textarea content as a user message. The optimistic
// store append happens inside SendText, so the next refresh already
// shows the pending message.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.notice = ""
	actions := m.actions
	return m, func() tea.Msg {
		_, err := actions.SendText(context.Background(), text)
		return sendResultMsg{err: err}
	}
}

// stopStreaming sends an advisory stop for the branch tip when it is
// still streaming.
func (m *Model) stopStreaming() {
	branch := m.store.Branch(m.conversationID)
	if len(branch) == 0 {
		return
	}
	tip := branch[len(branch)-1]
	if tip.Status != conversation.StatusStreaming {
		return
	}
	if err := m.actions.StopStreaming(context.Background(), tip.ID); err != nil {
		m.notice = fmt.Sprintf("stop failed: %v", err)
	}
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	inputHeight := m.input.Height() + 1 // border
	statusHeight := 1
	viewportHeight := m.height - inputHeight - statusHeight
	if viewportHeight < 1 {
		viewportHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = viewportHeight
	}
	m.input.SetWidth(m.width)
}

// refresh re-renders the resolved active branch into the viewport,
// keeping the view pinned to the bottom while content grows.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderBranch(m.store, m.conversationID, m.theme, m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	inputStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(m.theme.BorderColor)
	return m.viewport.View() + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		m.statusBar()
}

func (m Model) statusBar() string {
	stateColor := map[session.State]lipgloss.Color{
		session.StateConnected:    m.theme.StateConnected,
		session.StateConnecting:   m.theme.StateConnecting,
		session.StateReconnecting: m.theme.StateReconnecting,
		session.StateDisconnected: m.theme.StateClosed,
		session.StateClosed:       m.theme.StateClosed,
	}[m.currentState]

	state := lipgloss.NewStyle().
		Foreground(stateColor).
		Background(m.theme.StatusBarBackground).
		Padding(0, 1).
		Render(m.currentState.String())
	left := state + lipgloss.NewStyle().
		Foreground(m.theme.FaintText).
		Background(m.theme.StatusBarBackground).
		Padding(0, 1).
		Render(string(m.conversationID))

	right := m.notice
	if right == "" {
		right = "esc: stop streaming"
	}
	rightRendered := lipgloss.NewStyle().
		Foreground(m.theme.HelpText).
		Background(m.theme.StatusBarBackground).
		Padding(0, 1).
		Render(right)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(rightRendered)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Background(m.theme.StatusBarBackground).
		Render(strings.Repeat(" ", gap))
	return left + filler + rightRendered
}

// renderBranch formats the active branch for the viewport. Streaming
// messages render their accumulated sentence text; failed sends are
// marked inline rather than removed, matching the store's
// non-destructive handling.
func renderBranch(store *conversation.Store, conversationID ref.ConversationID, theme Theme, width int) string {
	labelStyles := map[conversation.Role]lipgloss.Style{
		conversation.RoleUser:      lipgloss.NewStyle().Foreground(theme.UserLabel).Bold(true),
		conversation.RoleAssistant: lipgloss.NewStyle().Foreground(theme.AssistantLabel).Bold(true),
	}
	bodyStyle := lipgloss.NewStyle().Foreground(theme.NormalText).Width(width)

	var builder strings.Builder
	for _, m := range store.Branch(conversationID) {
		label := labelStyles[m.Role].Render(string(m.Role))
		text := store.MessageText(m.ID)

		switch m.Status {
		case conversation.StatusStreaming:
			text = lipgloss.NewStyle().Foreground(theme.StreamingText).Render(text) +
				lipgloss.NewStyle().Foreground(theme.FaintText).Render(" ...")
		case conversation.StatusError:
			text = lipgloss.NewStyle().Foreground(theme.ErrorText).Render(text + "  [failed]")
		case conversation.StatusPending:
			if m.SyncStatus == conversation.SyncLocal {
				text = lipgloss.NewStyle().Foreground(theme.PendingText).Render(text + "  [queued]")
			}
		}

		builder.WriteString(label)
		builder.WriteString("\n")
		builder.WriteString(bodyStyle.Render(text))
		builder.WriteString("\n")

		faint := lipgloss.NewStyle().Foreground(theme.FaintText).Width(width)
		for _, tc := range store.ToolCalls(m.ID) {
			line := fmt.Sprintf("[tool] %s: %s", tc.ToolName, tc.Status)
			if tc.Status == conversation.ToolError && tc.Error != "" {
				line += " (" + tc.Error + ")"
			}
			builder.WriteString(faint.Render(line))
			builder.WriteString("\n")
		}
		for _, mt := range store.MemoryTraces(m.ID) {
			builder.WriteString(faint.Render(
				fmt.Sprintf("[memory %.2f] %s", mt.Relevance, mt.Content)))
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}
	return builder.String()
}
