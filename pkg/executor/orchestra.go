// Package executor runs parsed flows against a driver.
//
// An Orchestra executes one flow at a time: it walks the command tree,
// expands placeholders against the current environment scope, dispatches
// primitive commands to the driver and composite ones (repeat, retry,
// runFlow) to their handlers, and records a report.CommandOutcome for
// every command. Runner and ParallelRunner execute a whole suite.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/jsengine"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// Defaults for Options.
const (
	DefaultRepeatMaxIterations = 1000
	DefaultRetryMaxAttempts    = 3
	DefaultMaxFlowDepth        = 50
	DefaultLookupTimeout       = 17 * time.Second
	DefaultSettleTimeout       = 5 * time.Second
)

// errConditionUnmet is returned by a command whose when-condition is false.
var errConditionUnmet = errors.New("condition unmet")

// Options configures an Orchestra.
type Options struct {
	RepeatMaxIterations int           // Cap for repeat loops driven only by a while condition
	RetryMaxAttempts    int           // Cap for retry.maxRetries
	MaxFlowDepth        int           // Sub-flow files that may be nested inside one flow
	LookupTimeout       time.Duration // Element lookup timeout when a command sets none
	SettleTimeout       time.Duration // waitForAnimationToEnd timeout when a command sets none

	OutputDir string // Screenshots and failure artifacts are written here
	Artifacts core.ArtifactConfig

	BaseEnv  env.Vars   // Shell and CLI variables, overridden by the flow header
	Flows    *FlowCache // Parsed sub-flows; shared between flows of a run
	Listener Listener
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		RepeatMaxIterations: DefaultRepeatMaxIterations,
		RetryMaxAttempts:    DefaultRetryMaxAttempts,
		MaxFlowDepth:        DefaultMaxFlowDepth,
		LookupTimeout:       DefaultLookupTimeout,
		SettleTimeout:       DefaultSettleTimeout,
		Artifacts:           core.DefaultArtifactConfig(),
	}
}

// Listener receives live execution events. All callbacks are optional.
// With ParallelRunner they are called from several goroutines.
type Listener struct {
	OnFlowStart       func(name, file string)
	OnCommandStart    func(index int, description string)
	OnCommandComplete func(outcome *report.CommandOutcome)
	OnNestedCommand   func(depth int, outcome *report.CommandOutcome)
	OnFlowEnd         func(result *report.FlowResult)
}

// Orchestra executes flows on a single driver. It is not safe for
// concurrent use; ParallelRunner gives every worker its own.
type Orchestra struct {
	driver core.Driver
	opts   Options

	scope    *env.Scope
	js       *jsengine.Engine
	progress *report.RunningFlow

	flowID      string
	dirs        []string // path resolution base, innermost last
	appIDs      []string // default appId, innermost last
	depth       int      // nesting below the flow's own sequences
	artifactSeq int
	sessionLost bool
}

// New creates an Orchestra.
func New(driver core.Driver, opts Options) *Orchestra {
	if opts.RepeatMaxIterations <= 0 {
		opts.RepeatMaxIterations = DefaultRepeatMaxIterations
	}
	if opts.RetryMaxAttempts <= 0 {
		opts.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if opts.MaxFlowDepth <= 0 {
		opts.MaxFlowDepth = DefaultMaxFlowDepth
	}
	if opts.Flows == nil {
		opts.Flows = NewFlowCache()
	}
	return &Orchestra{driver: driver, opts: opts}
}

// WithProgress makes the Orchestra report live progress to rf.
func (o *Orchestra) WithProgress(rf *report.RunningFlow) *Orchestra {
	o.progress = rf
	return o
}

// SessionLost reports whether the last RunFlow ended because the device
// session was lost.
func (o *Orchestra) SessionLost() bool {
	return o.sessionLost
}

// RunFlow executes f and returns its result. onFlowComplete runs even when
// the main sequence aborted or ctx was cancelled.
func (o *Orchestra) RunFlow(ctx context.Context, f *flow.Flow) (result *report.FlowResult) {
	start := time.Now()
	result = &report.FlowResult{
		ID:        uuid.NewString(),
		Name:      f.Name(),
		File:      f.SourcePath,
		Tags:      f.Config.Tags,
		StartTime: start,
	}

	o.reset(result.ID)
	if info := o.driver.PlatformInfo(); info != nil {
		result.Device = info.DeviceName
		o.js.SetPlatform(info.Platform)
	}
	// Header values may refer to shell and CLI variables.
	o.scope = env.NewScope(env.NewMapping(o.opts.BaseEnv...))
	o.scope.Current().Apply(o.expandVars(f.Vars()))
	o.enterFlow(f)
	defer o.leaveFlow()

	if o.progress != nil {
		o.progress.Start(start)
	}
	if fn := o.opts.Listener.OnFlowStart; fn != nil {
		fn(result.Name, filepath.Base(f.SourcePath))
	}
	logger.Info("flow %q started (%s)", result.Name, f.SourcePath)

	var fatal error
	defer func() {
		if len(f.Config.OnFlowComplete) > 0 {
			result.OnFlowComplete, _ = o.runSequence(context.WithoutCancel(ctx), f.Config.OnFlowComplete)
		}
		o.finish(result, fatal)
	}()

	if len(f.Config.OnFlowStart) > 0 {
		result.OnFlowStart, fatal = o.runSequence(ctx, f.Config.OnFlowStart)
	}
	if fatal != nil {
		result.Commands = skipAll(f.Steps)
		return result
	}
	result.Commands, fatal = o.runSequence(ctx, f.Steps)
	return result
}

func (o *Orchestra) reset(flowID string) {
	o.flowID = flowID
	o.js = jsengine.New()
	o.dirs = o.dirs[:0]
	o.appIDs = o.appIDs[:0]
	o.depth = 0
	o.artifactSeq = 0
	o.sessionLost = false
}

func (o *Orchestra) finish(result *report.FlowResult, fatal error) {
	status := report.StatusOf(result.OnFlowStart, result.Commands, result.OnFlowComplete)
	stopped := core.Classify(fatal) == core.ErrCategoryCancelled
	switch {
	case stopped:
		status = core.FlowStopped
		result.Failure = report.NewFailure(core.ErrStopped)
	case status == core.FlowError:
		if first := result.FirstFailure(); first != nil {
			result.Failure = first.Failure
		}
	}
	result.Status = status
	result.Duration = time.Since(result.StartTime)

	if o.progress != nil {
		o.progress.Finish(status, result.StartTime.Add(result.Duration))
	}
	if fn := o.opts.Listener.OnFlowEnd; fn != nil {
		fn(result)
	}

	counts := result.Counts()
	log := logger.With("flow", result.Name, "status", status.String(), "duration", result.Duration)
	log.Infof("flow finished: %d/%d commands executed", counts.Executed(), counts.Total)
}

// runSequence executes steps in order. A fatal failure, a lost session or a
// cancelled context stops the sequence; the commands that did not run are
// recorded as SKIPPED and the cause is returned.
func (o *Orchestra) runSequence(ctx context.Context, steps []flow.Step) ([]report.CommandOutcome, error) {
	outcomes := make([]report.CommandOutcome, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return append(outcomes, skipFrom(steps, i)...), core.ErrStopped.WithCause(err)
		}
		out, err := o.runCommand(ctx, i, step)
		outcomes = append(outcomes, out)
		if err != nil {
			return append(outcomes, skipFrom(steps, i+1)...), err
		}
	}
	return outcomes, nil
}

// runNested runs the children of a composite command one level deeper.
func (o *Orchestra) runNested(ctx context.Context, steps []flow.Step) ([]report.CommandOutcome, error) {
	o.depth++
	defer func() { o.depth-- }()
	return o.runSequence(ctx, steps)
}

// runCommand executes one command and returns the error that must stop the
// enclosing sequence, if any.
func (o *Orchestra) runCommand(ctx context.Context, index int, step flow.Step) (report.CommandOutcome, error) {
	expanded := o.expand(step)
	out := report.CommandOutcome{
		Index:       index,
		Type:        step.Type(),
		Label:       step.Label(),
		Description: expanded.Describe(),
		Optional:    step.IsOptional(),
		Status:      core.CommandRunning,
		StartTime:   time.Now(),
	}
	o.commandStarted(index, out.Name())

	err := o.execute(ctx, expanded, &out)
	out.Duration = time.Since(out.StartTime)
	fatal := o.settle(&out, err)

	if _, composite := step.(flow.Composite); !composite {
		o.captureArtifacts(&out)
	}
	o.commandCompleted(&out)
	return out, fatal
}

// settle sets the outcome status from err and decides whether the failure
// aborts the sequence. A lost session, a stop request and an unreadable
// sub-flow abort even when the command is optional.
func (o *Orchestra) settle(out *report.CommandOutcome, err error) error {
	if err == nil {
		out.Status = core.CommandCompleted
		return nil
	}
	if errors.Is(err, errConditionUnmet) {
		out.Status = core.CommandConditionUnmet
		return nil
	}

	out.Failure = report.NewFailure(err)
	switch core.Classify(err) {
	case core.ErrCategorySession:
		o.sessionLost = true
		out.Status = core.CommandFailed
		logger.Error("%s: session lost: %v", out.Name(), err)
		return err
	case core.ErrCategoryCancelled, core.ErrCategoryParse:
		out.Status = core.CommandFailed
		return err
	}

	if out.Optional {
		out.Status = core.CommandWarned
		logger.Warn("%s: optional command failed: %v", out.Name(), err)
		return nil
	}
	out.Status = core.CommandFailed
	logger.Error("%s: %v", out.Name(), err)
	return err
}

func (o *Orchestra) commandStarted(index int, description string) {
	if o.depth > 0 {
		return
	}
	if o.progress != nil {
		o.progress.SetCommand(index, description)
	}
	if fn := o.opts.Listener.OnCommandStart; fn != nil {
		fn(index, description)
	}
}

func (o *Orchestra) commandCompleted(out *report.CommandOutcome) {
	logger.Debug("[%d] %s: %s (%s)", o.depth, out.Name(), out.Status, out.Duration)
	if o.depth > 0 {
		if fn := o.opts.Listener.OnNestedCommand; fn != nil {
			fn(o.depth, out)
		}
		return
	}
	if fn := o.opts.Listener.OnCommandComplete; fn != nil {
		fn(out)
	}
}

// captureArtifacts saves a screenshot and the view hierarchy next to the
// report when the artifact policy asks for it.
func (o *Orchestra) captureArtifacts(out *report.CommandOutcome) {
	cfg := o.opts.Artifacts
	if o.opts.OutputDir == "" || o.sessionLost || !cfg.ShouldCapture(out.Status) {
		return
	}
	o.artifactSeq++
	base := filepath.Join("artifacts", fmt.Sprintf("%s-%03d", o.flowID, o.artifactSeq))

	if cfg.Screenshot {
		data, err := o.driver.TakeScreenshot()
		if err == nil {
			err = o.writeArtifact(base+"-screenshot.png", data)
		}
		if err != nil {
			logger.Warn("capture screenshot: %v", err)
		} else {
			out.Attachments = append(out.Attachments, core.NewScreenshotAttachment(base+"-screenshot.png"))
		}
	}
	if cfg.Hierarchy {
		h, err := o.driver.ViewHierarchy()
		var data []byte
		if err == nil {
			data, err = json.MarshalIndent(h, "", "  ")
		}
		if err == nil {
			err = o.writeArtifact(base+"-hierarchy.json", data)
		}
		if err != nil {
			logger.Warn("capture hierarchy: %v", err)
		} else {
			out.Attachments = append(out.Attachments, core.NewHierarchyAttachment(base+"-hierarchy.json"))
		}
	}
}

func (o *Orchestra) writeArtifact(rel string, data []byte) error {
	path := filepath.Join(o.opts.OutputDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// enterFlow makes f's directory and appId the defaults until leaveFlow.
func (o *Orchestra) enterFlow(f *flow.Flow) {
	o.dirs = append(o.dirs, f.Dir())
	appID := f.Config.AppID
	if appID == "" {
		appID = o.appID()
	}
	o.appIDs = append(o.appIDs, appID)
}

func (o *Orchestra) leaveFlow() {
	o.dirs = o.dirs[:len(o.dirs)-1]
	o.appIDs = o.appIDs[:len(o.appIDs)-1]
}

func (o *Orchestra) appID() string {
	if len(o.appIDs) == 0 {
		return ""
	}
	return o.appIDs[len(o.appIDs)-1]
}

// resolvePath resolves ref against the directory of the innermost flow.
func (o *Orchestra) resolvePath(ref string) string {
	if filepath.IsAbs(ref) || len(o.dirs) == 0 {
		return ref
	}
	return filepath.Join(o.dirs[len(o.dirs)-1], ref)
}

func skipAll(steps []flow.Step) []report.CommandOutcome {
	return skipFrom(steps, 0)
}

func skipFrom(steps []flow.Step, from int) []report.CommandOutcome {
	if from >= len(steps) {
		return nil
	}
	out := make([]report.CommandOutcome, 0, len(steps)-from)
	for i := from; i < len(steps); i++ {
		s := steps[i]
		out = append(out, report.CommandOutcome{
			Index:       i,
			Type:        s.Type(),
			Label:       s.Label(),
			Description: s.Describe(),
			Optional:    s.IsOptional(),
			Status:      core.CommandSkipped,
		})
	}
	return out
}
