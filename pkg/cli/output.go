package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/executor"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/progress"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// Commands slower than this are flagged in the console.
const slowThreshold = 5 * time.Second

var (
	boldStyle   = lipgloss.NewStyle().Bold(true)
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	grayStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// console prints live results. In brief mode (parallel runs) only flow
// results are printed, since command lines of several devices would
// interleave.
type console struct {
	w     io.Writer
	plain bool
	brief bool
	total int

	mu    sync.Mutex
	index int
}

func newConsole(w io.Writer, plain, brief bool, total int) *console {
	return &console{w: w, plain: plain, brief: brief, total: total}
}

// reset restarts flow numbering for a new suite of total flows.
func (c *console) reset(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
	c.total = total
}

func (c *console) paint(style lipgloss.Style, s string) string {
	if c.plain {
		return s
	}
	return style.Render(s)
}

func (c *console) badge(s core.FlowStatus) string {
	if c.plain {
		return s.String()
	}
	return progress.Badge(s)
}

// listener returns the executor callbacks that print to the console.
func (c *console) listener() executor.Listener {
	l := executor.Listener{OnFlowEnd: c.flowEnd}
	if c.brief {
		return l
	}
	l.OnFlowStart = c.flowStart
	l.OnCommandComplete = c.commandComplete
	l.OnNestedCommand = c.nestedCommand
	return l
}

func (c *console) flowStart(name, file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index++
	fmt.Fprintf(c.w, "\n  %s %s (%s)\n",
		c.paint(cyanStyle, fmt.Sprintf("[%d/%d]", c.index, c.total)),
		c.paint(boldStyle, name), file)
	fmt.Fprintln(c.w, "  "+strings.Repeat("─", 60))
}

func (c *console) commandComplete(out *report.CommandOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printOutcome(out, "    ")
}

func (c *console) nestedCommand(depth int, out *report.CommandOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printOutcome(out, strings.Repeat("  ", 2+depth+1))
}

func (c *console) printOutcome(out *report.CommandOutcome, indent string) {
	dur := formatDuration(out.Duration)
	switch out.Status {
	case core.CommandCompleted:
		symbol, style := "✓", greenStyle
		if out.Duration >= slowThreshold && !isCompound(out.Type) {
			symbol, style = "⚠", yellowStyle
		}
		fmt.Fprintf(c.w, "%s%s %s %s\n", indent, c.paint(style, symbol), out.Name(), c.paint(grayStyle, "("+dur+")"))
	case core.CommandConditionUnmet:
		fmt.Fprintf(c.w, "%s%s %s %s\n", indent, c.paint(grayStyle, "-"), out.Name(), c.paint(grayStyle, "(condition not met)"))
	case core.CommandSkipped:
		fmt.Fprintf(c.w, "%s%s %s\n", indent, c.paint(grayStyle, "○"), c.paint(grayStyle, out.Name()))
	case core.CommandWarned:
		fmt.Fprintf(c.w, "%s%s %s (%s)\n", indent, c.paint(yellowStyle, "!"), out.Name(), dur)
		c.printFailure(out, indent)
	default:
		fmt.Fprintf(c.w, "%s%s %s (%s)\n", indent, c.paint(redStyle, "✗"), out.Name(), dur)
		c.printFailure(out, indent)
	}
}

func (c *console) printFailure(out *report.CommandOutcome, indent string) {
	if out.Failure != nil && out.Failure.Message != "" {
		fmt.Fprintf(c.w, "%s  %s %s\n", indent, c.paint(grayStyle, "╰─"), out.Failure.Message)
	}
}

func (c *console) flowEnd(result *report.FlowResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("%s %s %s", c.badge(result.Status), result.Name, c.paint(grayStyle, formatDuration(result.Duration)))
	if c.brief && result.Device != "" {
		line += c.paint(grayStyle, " on "+result.Device)
	}
	fmt.Fprintln(c.w, line)
	if result.Failure != nil && !result.Passed() {
		fmt.Fprintf(c.w, "  %s %s\n", c.paint(grayStyle, "╰─"), result.Failure.Message)
	}
}

// printSummary prints the per-flow table and the totals.
func (c *console) printSummary(suite *report.SuiteResult) {
	var total report.CommandCounts
	for _, f := range suite.Flows {
		counts := f.Counts()
		total.Total += counts.Total
		total.Completed += counts.Completed
		total.Warned += counts.Warned
		total.Failed += counts.Failed
		total.Skipped += counts.Skipped
		total.ConditionUnmet += counts.ConditionUnmet
	}

	fmt.Fprintln(c.w)
	if total.Completed > 0 {
		fmt.Fprintf(c.w, "  %s (%s)\n", c.paint(greenStyle, fmt.Sprintf("%d commands passing", total.Completed)), formatDuration(suite.Duration))
	}
	if total.Warned > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.paint(yellowStyle, fmt.Sprintf("%d commands warned", total.Warned)))
	}
	if total.Failed > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.paint(redStyle, fmt.Sprintf("%d commands failing", total.Failed)))
	}
	if total.Skipped > 0 {
		fmt.Fprintf(c.w, "  %s\n", c.paint(cyanStyle, fmt.Sprintf("%d commands skipped", total.Skipped)))
	}
	fmt.Fprintln(c.w)

	const tableWidth = 92
	fmt.Fprintln(c.w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(c.w, "  %-40s %-9s %6s %6s %6s %6s %10s\n", "Flow", "Status", "Cmds", "Pass", "Fail", "Skip", "Duration")
	fmt.Fprintln(c.w, strings.Repeat("─", tableWidth))
	for _, f := range suite.Flows {
		counts := f.Counts()
		name := f.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		fmt.Fprintf(c.w, "  %-40s %s %6d %6d %6d %6d %10s\n",
			name, c.statusCell(f.Status), counts.Total, counts.Completed+counts.Warned,
			counts.Failed, counts.Skipped, formatDuration(f.Duration))
	}
	fmt.Fprintln(c.w, strings.Repeat("─", tableWidth))

	passed, _ := suite.Tally()
	fmt.Fprintf(c.w, "  %s %s %6d %6d %6d %6d %10s\n",
		c.paint(boldStyle, fmt.Sprintf("%-40s", "TOTAL")),
		fmt.Sprintf("%-9s", fmt.Sprintf("%d/%d", passed, len(suite.Flows))),
		total.Total, total.Completed+total.Warned, total.Failed, total.Skipped,
		formatDuration(suite.Duration))
	fmt.Fprintln(c.w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(c.w, "\n  %s\n", c.badge(suite.Status))
}

func (c *console) statusCell(s core.FlowStatus) string {
	cell := fmt.Sprintf("%-9s", s.String())
	switch s {
	case core.FlowSuccess:
		return c.paint(greenStyle, cell)
	case core.FlowWarning:
		return c.paint(yellowStyle, cell)
	case core.FlowError:
		return c.paint(redStyle, cell)
	default:
		return c.paint(cyanStyle, cell)
	}
}

func isCompound(t flow.StepType) bool {
	return t == flow.StepRunFlow || t == flow.StepRepeat || t == flow.StepRetry
}

// formatDuration shows milliseconds below a second, seconds below a
// minute, and minutes with seconds above.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm %ds", ms/60000, (ms%60000)/1000)
}
