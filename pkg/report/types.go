// Package report holds execution results and writes them out.
//
// Results are built bottom-up by the executor:
//   - CommandOutcome: one per command, nested for composite commands
//   - FlowResult: the outcomes of one flow plus its aggregate status
//   - SuiteResult: every flow of a run on one device
//
// A flow's status is the worst status among its commands, and a suite's is
// the worst among its flows. RunningFlows is the live view of the same run.
package report

import (
	"errors"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// Version is the JSON report schema version.
const Version = "1.0.0"

// Failure describes why a command or flow did not succeed.
type Failure struct {
	Message  string             `json:"message"`
	Category core.ErrorCategory `json:"category"`
	Code     string             `json:"code,omitempty"`
}

// NewFailure converts err into a Failure. Returns nil for a nil error.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Message: err.Error(), Category: core.Classify(err)}
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		f.Code = execErr.Code
	}
	return f
}

// CommandOutcome is the result of one command.
type CommandOutcome struct {
	Index       int                `json:"index"`
	Type        flow.StepType      `json:"type"`
	Label       string             `json:"label,omitempty"`
	Description string             `json:"description"`
	Optional    bool               `json:"optional,omitempty"`
	Status      core.CommandStatus `json:"status"`
	StartTime   time.Time          `json:"startTime"`
	Duration    time.Duration      `json:"duration"`
	Failure     *Failure           `json:"failure,omitempty"`
	Attempts    int                `json:"attempts,omitempty"`   // retry
	Iterations  int                `json:"iterations,omitempty"` // repeat
	Children    []CommandOutcome   `json:"children,omitempty"`
	Attachments []core.Attachment  `json:"attachments,omitempty"`
}

// Name returns the label if set, else the description.
func (o *CommandOutcome) Name() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Description
}

// Executed reports whether the command was run at all.
func (o *CommandOutcome) Executed() bool {
	return o.Status != core.CommandSkipped && o.Status != core.CommandPending
}

// CommandCounts tallies top-level command outcomes by status.
type CommandCounts struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Warned         int `json:"warned"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	ConditionUnmet int `json:"conditionUnmet"`
}

// Executed is the number of commands that ran.
func (c CommandCounts) Executed() int {
	return c.Total - c.Skipped
}

// CountCommands tallies outcomes. Children of composites are not counted.
func CountCommands(outcomes ...[]CommandOutcome) CommandCounts {
	var c CommandCounts
	for _, list := range outcomes {
		for i := range list {
			c.Total++
			switch list[i].Status {
			case core.CommandCompleted:
				c.Completed++
			case core.CommandWarned:
				c.Warned++
			case core.CommandFailed:
				c.Failed++
			case core.CommandSkipped, core.CommandPending:
				c.Skipped++
			case core.CommandConditionUnmet:
				c.ConditionUnmet++
			}
		}
	}
	return c
}

// StatusOf returns the worst flow status among outcomes.
func StatusOf(outcomes ...[]CommandOutcome) core.FlowStatus {
	status := core.FlowSuccess
	for _, list := range outcomes {
		for i := range list {
			status = core.Worst(status, list[i].Status.FlowStatus())
		}
	}
	return status
}

// FlowResult is the result of one flow run.
type FlowResult struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	File           string           `json:"file"`
	Tags           []string         `json:"tags,omitempty"`
	Device         string           `json:"device,omitempty"`
	Status         core.FlowStatus  `json:"status"`
	StartTime      time.Time        `json:"startTime"`
	Duration       time.Duration    `json:"duration"`
	Failure        *Failure         `json:"failure,omitempty"`
	OnFlowStart    []CommandOutcome `json:"onFlowStart,omitempty"`
	Commands       []CommandOutcome `json:"commands"`
	OnFlowComplete []CommandOutcome `json:"onFlowComplete,omitempty"`
}

// Counts tallies the hook and main-sequence outcomes.
func (r *FlowResult) Counts() CommandCounts {
	return CountCommands(r.OnFlowStart, r.Commands, r.OnFlowComplete)
}

// Passed reports whether the flow ended in SUCCESS or WARNING.
func (r *FlowResult) Passed() bool {
	return r.Status == core.FlowSuccess || r.Status == core.FlowWarning
}

// FirstFailure returns the first failed outcome, searching depth first.
func (r *FlowResult) FirstFailure() *CommandOutcome {
	for _, list := range [][]CommandOutcome{r.OnFlowStart, r.Commands, r.OnFlowComplete} {
		if o := firstFailure(list); o != nil {
			return o
		}
	}
	return nil
}

func firstFailure(outcomes []CommandOutcome) *CommandOutcome {
	for i := range outcomes {
		if outcomes[i].Status != core.CommandFailed {
			continue
		}
		if nested := firstFailure(outcomes[i].Children); nested != nil {
			return nested
		}
		return &outcomes[i]
	}
	return nil
}

// SuiteResult is the result of every flow run on one device.
type SuiteResult struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Device    string          `json:"device,omitempty"`
	Status    core.FlowStatus `json:"status"`
	StartTime time.Time       `json:"startTime"`
	Duration  time.Duration   `json:"duration"`
	Flows     []*FlowResult   `json:"flows"`
}

// Aggregate returns the worst status among flows. The order of flows does
// not matter. An empty suite is SUCCESS.
func Aggregate(flows []*FlowResult) core.FlowStatus {
	status := core.FlowSuccess
	for _, f := range flows {
		status = core.Worst(status, f.Status)
	}
	return status
}

// Finish sets the suite status and duration from its flows.
func (s *SuiteResult) Finish(end time.Time) {
	s.Status = Aggregate(s.Flows)
	s.Duration = end.Sub(s.StartTime)
}

// Passed reports whether every flow passed.
func (s *SuiteResult) Passed() bool {
	return s.Status == core.FlowSuccess || s.Status == core.FlowWarning
}

// Tally counts flows that passed and flows that did not.
func (s *SuiteResult) Tally() (passed, failed int) {
	for _, f := range s.Flows {
		if f.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
