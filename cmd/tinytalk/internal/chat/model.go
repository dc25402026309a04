package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinyland-inc/tinytalk/pkg/client"
	"github.com/tinyland-inc/tinytalk/pkg/config"
	"github.com/tinyland-inc/tinytalk/pkg/rooms"
	"github.com/tinyland-inc/tinytalk/pkg/session"
	"github.com/tinyland-inc/tinytalk/pkg/timeline"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	selfStyle  = lipgloss.NewStyle().Foreground(selfColor)
	otherStyle = lipgloss.NewStyle().Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// updateMsg carries a client update into the tea loop.
type updateMsg client.Update

func waitForUpdate(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-c.Updates())
	}
}

type model struct {
	client *client.Client
	room   string
	kind   session.RoomKind
	self   string

	input    textinput.Model
	viewport viewport.Model
	width    int
	height   int

	connState session.ConnState
	notice    string
}

func newModel(c *client.Client, cfg *config.Config, room string, kind session.RoomKind) model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 1000
	input.Width = 50
	input.Focus()

	return model{
		client:    c,
		room:      room,
		kind:      kind,
		self:      cfg.Identity.Name,
		input:     input,
		viewport:  viewport.New(80, 20),
		connState: session.Connected,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.client))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+a":
			// Approve the oldest pending request, if any.
			pending := m.client.Pending(m.room)
			if len(pending) == 0 {
				return m, nil
			}
			if err := m.client.Approve(m.room, pending[0]); err != nil {
				m.notice = err.Error()
			} else {
				m.notice = ""
			}
			return m, nil
		case "enter":
			if m.input.Value() == "" {
				return m, nil
			}
			body := m.input.Value()
			m.input.SetValue("")
			m.notice = ""
			if _, err := m.client.SendMessage(m.room, body); err != nil {
				if errors.Is(err, session.ErrDeliveryDeferred) {
					m.notice = "offline, message not delivered"
				} else {
					m.notice = err.Error()
				}
			}
			m.refreshViewport()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(msg.Width-2, msg.Height-6)
		m.input.Width = msg.Width - 6
		m.refreshViewport()
		return m, nil

	case updateMsg:
		switch msg.Kind {
		case client.UpdateConnState:
			m.connState = msg.State
		case client.UpdateMessage, client.UpdateHistory:
			if msg.Room == m.room {
				m.refreshViewport()
			}
		}
		return m, waitForUpdate(m.client)
	}

	return m, nil
}

func (m *model) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *model) renderMessages() string {
	msgs := m.client.Timeline(m.room)
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet")
	}

	var b strings.Builder
	for _, msg := range msgs {
		style := otherStyle
		if msg.Sender == m.self {
			style = selfStyle
		}
		line := fmt.Sprintf("%s %s: %s",
			mutedStyle.Render(msg.Timestamp),
			style.Render(msg.Sender),
			msg.Body,
		)
		if msg.State == timeline.Optimistic {
			line += mutedStyle.Render(" …")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m model) View() string {
	header := headerStyle.Render(m.headerText())
	footer := footerStyle.Render(m.footerText())
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

func (m model) headerText() string {
	title := titleStyle.Render("💬 " + m.room)

	switch m.connState {
	case session.Reconnecting:
		return title + errorStyle.Render(" ⟳ reconnecting...")
	case session.Disconnected:
		return title + errorStyle.Render(" ✗ disconnected")
	}

	if m.kind == session.KindRoom {
		switch m.client.Rooms().State(m.room) {
		case rooms.Requested:
			return title + mutedStyle.Render(" waiting for approval")
		case rooms.Denied:
			return title + errorStyle.Render(" join denied")
		}
		if pending := m.client.Pending(m.room); len(pending) > 0 {
			return title + errorStyle.Render(fmt.Sprintf(" %d pending request(s)", len(pending))) +
				mutedStyle.Render(" ctrl+a to approve")
		}
	}
	return title
}

func (m model) footerText() string {
	if m.notice != "" {
		return errorStyle.Render("✗ "+m.notice) + "\n" + m.input.View()
	}
	return m.input.View()
}
