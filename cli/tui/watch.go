package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/retort-io/retort/channel"
	"github.com/retort-io/retort/types"
)

// DefaultRefreshInterval is how often the watch view re-reads the reply file.
const DefaultRefreshInterval = 500 * time.Millisecond

// feedLines is the maximum number of reply records shown in the feed.
const feedLines = 15

// tickMsg triggers a reply-file re-read.
type tickMsg time.Time

// WatchModel is a Bubble Tea model tailing a channel's reply file.
type WatchModel struct {
	replyPath string
	interval  time.Duration

	replies []*types.Reply
	skipped int
	readErr error

	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model for the given reply file.
func NewWatchModel(replyPath string, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return WatchModel{
		replyPath: replyPath,
		interval:  interval,
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return tickMsg(time.Now()) })
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		replies, skipped, err := channel.NewReplyReader(m.replyPath).ReadAll()
		m.readErr = err
		if err == nil {
			m.replies = replies
			m.skipped = skipped
		}
		return m, m.tick()
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var acked, done, errored int
	for _, r := range m.replies {
		switch r.Kind {
		case types.ReplyAck:
			acked++
		case types.ReplyDone:
			done++
		case types.ReplyError:
			errored++
		}
	}

	title := TitleStyle.Render(fmt.Sprintf("retort watch — %s", m.replyPath))

	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Acked", acked, highlightColor),
		renderStatBox("Done", done, successColor),
		renderStatBox("Error", errored, errorColor),
	)

	feed := m.renderFeed()

	help := HelpStyle.Render("Press q or Ctrl+C to quit")

	out := title + "\n" + boxes + "\n\n" + feed
	if m.readErr != nil {
		out += "\n" + ErrorStyle.Render(fmt.Sprintf("read error: %v", m.readErr))
	}
	if m.skipped > 0 {
		out += "\n" + WarningStyle.Render(fmt.Sprintf("%d malformed records skipped", m.skipped))
	}
	return out + "\n" + help
}

// renderFeed renders the tail of the reply file, newest record last.
func (m WatchModel) renderFeed() string {
	if len(m.replies) == 0 {
		return HelpStyle.Render("(no replies yet)")
	}

	tail := m.replies
	if len(tail) > feedLines {
		tail = tail[len(tail)-feedLines:]
	}

	out := ""
	for i, r := range tail {
		if i > 0 {
			out += "\n"
		}
		line := fmt.Sprintf("%4d  %-6s", r.Sequence, r.Kind)
		if r.Payload != "" {
			line += "  " + r.Payload
		}
		out += kindStyle(r.Kind).Render(line)
	}
	return out
}

func kindStyle(kind types.ReplyKind) lipgloss.Style {
	switch kind {
	case types.ReplyDone:
		return SuccessStyle
	case types.ReplyError:
		return ErrorStyle
	case types.ReplyAck:
		return WarningStyle
	default:
		return ValueStyle
	}
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunWatchTUI runs the watch TUI until quit.
func RunWatchTUI(replyPath string, interval time.Duration) error {
	model := NewWatchModel(replyPath, interval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
