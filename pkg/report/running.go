package report

import (
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// RunningFlow is the live progress record of one flow. The executor
// goroutine writes it; any number of readers call Snapshot. Every field is
// an atomic, so a snapshot may mix values from two consecutive updates.
type RunningFlow struct {
	name string
	file string

	status       atomic.Int32
	commandIndex atomic.Int32
	command      atomic.Pointer[string]
	started      atomic.Int64 // unix nanos, 0 until Start
	ended        atomic.Int64 // unix nanos, 0 until Finish
	reported     atomic.Bool
}

// RunningFlowSnapshot is a value copy of a RunningFlow.
type RunningFlowSnapshot struct {
	Name         string
	File         string
	Status       core.FlowStatus
	CommandIndex int
	Command      string
	StartTime    time.Time
	Duration     time.Duration
	Reported     bool
}

// NewRunningFlow creates a PENDING record.
func NewRunningFlow(name, file string) *RunningFlow {
	f := &RunningFlow{name: name, file: file}
	f.status.Store(int32(core.FlowPending))
	f.commandIndex.Store(-1)
	return f
}

// Name returns the flow name.
func (f *RunningFlow) Name() string { return f.name }

// Status returns the current status.
func (f *RunningFlow) Status() core.FlowStatus {
	return core.FlowStatus(f.status.Load())
}

// Start moves the flow to RUNNING.
func (f *RunningFlow) Start(now time.Time) bool {
	if !f.transition(core.FlowRunning) {
		return false
	}
	f.started.Store(now.UnixNano())
	return true
}

// SetCommand records the command being executed.
func (f *RunningFlow) SetCommand(index int, description string) {
	f.command.Store(&description)
	f.commandIndex.Store(int32(index))
}

// Finish moves the flow to a terminal status. It returns false if the flow
// already finished; the first terminal status wins.
func (f *RunningFlow) Finish(status core.FlowStatus, now time.Time) bool {
	if !status.IsTerminal() || !f.transition(status) {
		return false
	}
	f.ended.Store(now.UnixNano())
	return true
}

func (f *RunningFlow) transition(next core.FlowStatus) bool {
	for {
		cur := f.status.Load()
		if !core.FlowStatus(cur).CanTransition(next) {
			return false
		}
		if f.status.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// MarkReported flags the flow as printed by a progress consumer. Only the
// first call returns true.
func (f *RunningFlow) MarkReported() bool {
	return f.reported.CompareAndSwap(false, true)
}

// Snapshot returns the current state.
func (f *RunningFlow) Snapshot() RunningFlowSnapshot {
	s := RunningFlowSnapshot{
		Name:         f.name,
		File:         f.file,
		Status:       f.Status(),
		CommandIndex: int(f.commandIndex.Load()),
		Reported:     f.reported.Load(),
	}
	if cmd := f.command.Load(); cmd != nil {
		s.Command = *cmd
	}
	if started := f.started.Load(); started != 0 {
		s.StartTime = time.Unix(0, started)
		if ended := f.ended.Load(); ended != 0 {
			s.Duration = time.Duration(ended - started)
		} else {
			s.Duration = time.Since(s.StartTime)
		}
	}
	return s
}

// RunningFlows is the live view of a whole run. The set of flows is fixed
// at construction.
type RunningFlows struct {
	flows   []*RunningFlow
	started atomic.Int64
}

// NewRunningFlows creates one PENDING record per flow.
func NewRunningFlows(flows []*flow.Flow) *RunningFlows {
	r := &RunningFlows{flows: make([]*RunningFlow, len(flows))}
	for i, f := range flows {
		r.flows[i] = NewRunningFlow(f.Name(), f.SourcePath)
	}
	return r
}

// Start records the run start time.
func (r *RunningFlows) Start(now time.Time) {
	r.started.CompareAndSwap(0, now.UnixNano())
}

// Len returns the number of flows.
func (r *RunningFlows) Len() int { return len(r.flows) }

// Flow returns the record for the i-th flow.
func (r *RunningFlows) Flow(i int) *RunningFlow { return r.flows[i] }

// Elapsed returns the time since Start.
func (r *RunningFlows) Elapsed() time.Duration {
	started := r.started.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

// Snapshot returns a copy of every record.
func (r *RunningFlows) Snapshot() []RunningFlowSnapshot {
	out := make([]RunningFlowSnapshot, len(r.flows))
	for i, f := range r.flows {
		out[i] = f.Snapshot()
	}
	return out
}

// Done reports whether every flow reached a terminal status.
func (r *RunningFlows) Done() bool {
	for _, f := range r.flows {
		if !f.Status().IsTerminal() {
			return false
		}
	}
	return true
}

// Status aggregates the finished flows. While any flow is unfinished the
// result is RUNNING unless a finished flow is already worse.
func (r *RunningFlows) Status() core.FlowStatus {
	status := core.FlowSuccess
	pending := false
	for _, f := range r.flows {
		s := f.Status()
		if !s.IsTerminal() {
			pending = true
			continue
		}
		status = core.Worst(status, s)
	}
	if pending && status == core.FlowSuccess {
		return core.FlowRunning
	}
	return status
}
