// Package progress renders a live view of a running suite in the terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

const refreshInterval = 100 * time.Millisecond

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

// Badge returns the styled status name used in console output.
func Badge(s core.FlowStatus) string {
	switch s {
	case core.FlowSuccess:
		return successStyle.Render("✓ " + s.String())
	case core.FlowWarning:
		return warningStyle.Render("! " + s.String())
	case core.FlowError:
		return errorStyle.Render("✗ " + s.String())
	case core.FlowStopped:
		return stoppedStyle.Render("■ " + s.String())
	default:
		return dimStyle.Render("· " + s.String())
	}
}

type tickMsg time.Time

// Model is the bubbletea model over a RunningFlows. It quits once every
// flow has finished. Ctrl+C calls the cancel func and keeps rendering
// until the flows report STOPPED.
type Model struct {
	flows   *report.RunningFlows
	cancel  func()
	spinner spinner.Model
	width   int
	stopped bool
	done    bool
}

// NewModel creates a model. cancel may be nil.
func NewModel(flows *report.RunningFlows, cancel func()) Model {
	return Model{
		flows:   flows,
		cancel:  cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update handles key presses, resizes and ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if !m.stopped && m.cancel != nil {
				m.cancel()
			}
			m.stopped = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		if m.flows.Done() {
			m.done = true
			return m, tea.Quit
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders one line per flow plus a header and footer.
func (m Model) View() string {
	snapshot := m.flows.Snapshot()
	var b strings.Builder

	finished := 0
	for _, f := range snapshot {
		if f.Status.IsTerminal() {
			finished++
		}
	}
	fmt.Fprintf(&b, "%s %s\n\n",
		titleStyle.Render(fmt.Sprintf("Flows %d/%d", finished, len(snapshot))),
		dimStyle.Render(m.flows.Elapsed().Round(time.Second).String()))

	for _, f := range snapshot {
		b.WriteString(m.line(f))
		b.WriteString("\n")
	}

	switch {
	case m.done:
		fmt.Fprintf(&b, "\n%s\n", Badge(m.flows.Status()))
	case m.stopped:
		b.WriteString(dimStyle.Render("\nstopping after the current command...") + "\n")
	}
	return b.String()
}

func (m Model) line(f report.RunningFlowSnapshot) string {
	switch f.Status {
	case core.FlowPending:
		return dimStyle.Render("  · " + f.Name)
	case core.FlowRunning:
		cmd := f.Command
		if m.width > 0 && len(cmd) > m.width/2 {
			cmd = cmd[:m.width/2] + "…"
		}
		return fmt.Sprintf("  %s %s %s %s", m.spinner.View(), f.Name,
			dimStyle.Render(cmd), dimStyle.Render(f.Duration.Round(time.Second).String()))
	default:
		return fmt.Sprintf("  %s %s %s", Badge(f.Status), f.Name,
			dimStyle.Render(f.Duration.Round(time.Millisecond).String()))
	}
}

// Run shows the live view on out until every flow has finished.
func Run(flows *report.RunningFlows, cancel func(), out io.Writer) error {
	p := tea.NewProgram(NewModel(flows, cancel), tea.WithOutput(out))
	_, err := p.Run()
	return err
}
