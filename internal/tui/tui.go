// Package tui renders the assistant overlay in the terminal: current state,
// live transcript and reply, and an input level meter while listening.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	core "github.com/gideontalk/talk-core/core"
)

// Controller is the subset of the orchestrator the TUI can drive.
type Controller interface {
	Toggle()
	CancelTurn()
	NewConversation()
}

// StateMsg carries a fresh orchestrator snapshot into the update loop.
type StateMsg core.Snapshot

// LevelMsg carries a normalized microphone level sample.
type LevelMsg float64

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	transcriptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	responseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	meterStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const meterWidth = 24

type Model struct {
	controller Controller

	snapshot core.Snapshot
	level    float64
	spinner  spinner.Model
	width    int
}

func NewModel(controller Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	return Model{
		controller: controller,
		spinner:    s,
		width:      80,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case StateMsg:
		m.snapshot = core.Snapshot(msg)
		if m.snapshot.State != core.StateListening {
			m.level = 0
		}
		return m, nil

	case LevelMsg:
		m.level = float64(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case " ", "enter":
			m.controller.Toggle()
			return m, nil
		case "c", "esc":
			m.controller.CancelTurn()
			return m, nil
		case "n":
			m.controller.NewConversation()
			return m, nil
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("GideonTalk"))
	b.WriteString("\n\n")

	status := m.snapshot.State.StatusText(m.snapshot.Err)
	switch m.snapshot.State {
	case core.StateThinking:
		b.WriteString(m.spinner.View() + " " + statusStyle.Render(status))
	case core.StateError:
		b.WriteString(errorStyle.Render(status))
	default:
		b.WriteString(statusStyle.Render(status))
	}
	b.WriteString("\n")

	if m.snapshot.State == core.StateListening {
		b.WriteString(meterStyle.Render(renderMeter(m.level)))
		b.WriteString("\n")
	}

	wrap := max(m.width-2, 20)
	if m.snapshot.Transcript != "" {
		b.WriteString("\n")
		b.WriteString(transcriptStyle.Render(wordwrap.String("You: "+m.snapshot.Transcript, wrap)))
		b.WriteString("\n")
	}
	if m.snapshot.Response != "" {
		b.WriteString("\n")
		b.WriteString(responseStyle.Render(wordwrap.String("Gideon: "+m.snapshot.Response, wrap)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space: talk/stop  c: cancel  n: new conversation  q: quit"))

	return b.String()
}

func renderMeter(level float64) string {
	filled := int(level * meterWidth)
	if filled > meterWidth {
		filled = meterWidth
	}
	return fmt.Sprintf("[%s%s]",
		strings.Repeat("█", filled),
		strings.Repeat("░", meterWidth-filled),
	)
}
