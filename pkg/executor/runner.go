package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// RunnerConfig configures a suite run.
type RunnerConfig struct {
	Options    Options
	SuiteName  string
	StopOnFail bool // Remaining flows are STOPPED after the first flow that does not pass

	// Progress receives live status. When nil or not built from the same
	// flows, a new one is created.
	Progress *report.RunningFlows
}

// prepare returns the options shared by every flow of the run and the
// progress view.
func (cfg RunnerConfig) prepare(flows []*flow.Flow) (Options, *report.RunningFlows) {
	opts := cfg.Options
	if opts.Flows == nil {
		opts.Flows = NewFlowCache()
	}
	progress := cfg.Progress
	if progress == nil || progress.Len() != len(flows) {
		progress = report.NewRunningFlows(flows)
	}
	return opts, progress
}

// Runner executes flows one after another on a single driver.
type Runner struct {
	driver core.Driver
	config RunnerConfig
}

// NewRunner creates a Runner.
func NewRunner(driver core.Driver, cfg RunnerConfig) *Runner {
	return &Runner{driver: driver, config: cfg}
}

// Run executes flows in order. Every flow gets a fresh Orchestra, so scope
// and JS state never leak between flows. A lost session or a cancelled
// context marks the flows that did not start as STOPPED.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) *report.SuiteResult {
	opts, progress := r.config.prepare(flows)
	start := time.Now()
	suite := newSuite(r.config.SuiteName, deviceName(r.driver), start, len(flows))
	progress.Start(start)

	stop := false
	for i, f := range flows {
		rf := progress.Flow(i)
		if stop || ctx.Err() != nil {
			suite.Flows[i] = stoppedFlow(f, rf, opts.Listener)
			continue
		}

		orch := New(r.driver, opts).WithProgress(rf)
		result := orch.RunFlow(ctx, f)
		suite.Flows[i] = result

		switch {
		case orch.SessionLost():
			logger.Error("device session lost during %q, stopping the run", result.Name)
			stop = true
		case r.config.StopOnFail && !result.Passed():
			logger.Info("flow %q did not pass, stopping the run", result.Name)
			stop = true
		}
	}

	suite.Finish(time.Now())
	return suite
}

func newSuite(name, device string, start time.Time, flows int) *report.SuiteResult {
	if name == "" {
		name = report.DefaultSuiteName
	}
	return &report.SuiteResult{
		ID:        uuid.NewString(),
		Name:      name,
		Device:    device,
		StartTime: start,
		Flows:     make([]*report.FlowResult, flows),
	}
}

// stoppedFlow is the result of a flow that never started.
func stoppedFlow(f *flow.Flow, rf *report.RunningFlow, listener Listener) *report.FlowResult {
	result := &report.FlowResult{
		ID:             uuid.NewString(),
		Name:           f.Name(),
		File:           f.SourcePath,
		Tags:           f.Config.Tags,
		Status:         core.FlowStopped,
		Failure:        report.NewFailure(core.ErrStopped),
		OnFlowStart:    skipAll(f.Config.OnFlowStart),
		Commands:       skipAll(f.Steps),
		OnFlowComplete: skipAll(f.Config.OnFlowComplete),
	}
	if rf != nil {
		rf.Finish(core.FlowStopped, time.Now())
	}
	if listener.OnFlowEnd != nil {
		listener.OnFlowEnd(result)
	}
	return result
}

func deviceName(d core.Driver) string {
	info := d.PlatformInfo()
	if info == nil {
		return ""
	}
	if info.DeviceName != "" {
		return info.DeviceName
	}
	return info.DeviceID
}
