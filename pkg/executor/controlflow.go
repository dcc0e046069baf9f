package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

// repeat runs its commands times times, or while its condition holds, or
// both. A loop driven only by a condition stops after RepeatMaxIterations.
func (o *Orchestra) repeat(ctx context.Context, s *flow.RepeatStep, out *report.CommandOutcome) error {
	times := -1
	if s.Times != "" {
		n, err := parseCount(s.Times)
		if err != nil {
			return core.ErrInvalidConfig.WithMessagef("repeat: invalid times %q", s.Times)
		}
		times = n
	}
	if times < 0 && s.While.IsEmpty() {
		return core.ErrMissingRequired.WithMessage("repeat requires times or while")
	}

	limit := times
	if limit < 0 {
		limit = o.opts.RepeatMaxIterations
	}
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return core.ErrStopped.WithCause(err)
		}
		if !s.While.IsEmpty() {
			ok, err := o.checkCondition(s.While)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		children, err := o.runNested(ctx, s.Steps)
		out.Children = append(out.Children, children...)
		out.Iterations++
		if err != nil {
			return err
		}
	}
	if times < 0 {
		logger.Warn("repeat: condition still true after %d iterations, stopping", limit)
	}
	return nil
}

// retry reruns its commands until one attempt has no fatal failure. Device
// side effects of a failed attempt are not undone. Only the last attempt's
// outcomes are kept.
func (o *Orchestra) retry(ctx context.Context, s *flow.RetryStep, out *report.CommandOutcome) error {
	retries := 1
	if s.MaxRetries != "" {
		n, err := parseCount(s.MaxRetries)
		if err != nil {
			return core.ErrInvalidConfig.WithMessagef("retry: invalid maxRetries %q", s.MaxRetries)
		}
		retries = n
	}
	if retries > o.opts.RetryMaxAttempts {
		logger.Warn("retry: maxRetries %d capped at %d", retries, o.opts.RetryMaxAttempts)
		retries = o.opts.RetryMaxAttempts
	}

	var sub *flow.Flow
	if s.File != "" {
		var err error
		if sub, err = o.loadFlow(s.File); err != nil {
			return err
		}
	}

	attempts := retries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		out.Attempts = attempt
		if sub != nil {
			out.Children, err = o.runSubFlow(ctx, sub, s.Env)
		} else {
			err = o.scope.With(s.Env, func() error {
				var runErr error
				out.Children, runErr = o.runNested(ctx, s.Steps)
				return runErr
			})
		}
		if err == nil {
			return nil
		}
		switch core.Classify(err) {
		case core.ErrCategorySession, core.ErrCategoryCancelled, core.ErrCategoryParse:
			return err
		}
		if errors.Is(err, core.ErrFlowTooDeep) {
			return err
		}
		if attempt < attempts {
			logger.Info("retry: attempt %d/%d failed: %v", attempt, attempts, err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

// runFlowCommand runs a sub-flow file or inline commands in a child scope.
func (o *Orchestra) runFlowCommand(ctx context.Context, s *flow.RunFlowStep, out *report.CommandOutcome) error {
	if !s.When.IsEmpty() {
		ok, err := o.checkCondition(s.When)
		if err != nil {
			return err
		}
		if !ok {
			return errConditionUnmet
		}
	}

	if s.File == "" {
		if len(s.Steps) == 0 {
			return core.ErrMissingRequired.WithMessage("runFlow requires file or commands")
		}
		return o.scope.With(s.Env, func() error {
			var err error
			out.Children, err = o.runNested(ctx, s.Steps)
			return err
		})
	}

	sub, err := o.loadFlow(s.File)
	if err != nil {
		return err
	}
	out.Children, err = o.runSubFlow(ctx, sub, s.Env)
	return err
}

// runSubFlow runs a flow file inside the current one: its header env and
// then overrides are applied in a child scope, its directory and appId
// become the defaults, and its own hooks run around its commands.
func (o *Orchestra) runSubFlow(ctx context.Context, sub *flow.Flow, overrides env.Vars) ([]report.CommandOutcome, error) {
	// dirs holds the root flow plus every sub-flow entered so far.
	if len(o.dirs) > o.opts.MaxFlowDepth {
		return nil, core.ErrFlowTooDeep.WithMessagef("%s: more than %d nested flows", sub.Name(), o.opts.MaxFlowDepth)
	}

	vars := append(o.expandVars(sub.Vars()), overrides...)

	o.enterFlow(sub)
	defer o.leaveFlow()

	var outcomes []report.CommandOutcome
	err := o.scope.With(vars, func() error {
		var fatal error
		if len(sub.Config.OnFlowStart) > 0 {
			var start []report.CommandOutcome
			start, fatal = o.runNested(ctx, sub.Config.OnFlowStart)
			outcomes = append(outcomes, start...)
		}
		if fatal == nil {
			var main []report.CommandOutcome
			main, fatal = o.runNested(ctx, sub.Steps)
			outcomes = append(outcomes, main...)
		} else {
			outcomes = append(outcomes, skipAll(sub.Steps)...)
		}
		if len(sub.Config.OnFlowComplete) > 0 {
			complete, err := o.runNested(context.WithoutCancel(ctx), sub.Config.OnFlowComplete)
			outcomes = append(outcomes, complete...)
			if fatal == nil {
				fatal = err
			}
		}
		return fatal
	})
	return outcomes, err
}

// checkCondition evaluates every clause of cond; all must hold. Visibility
// clauses look at a single hierarchy snapshot without waiting.
func (o *Orchestra) checkCondition(cond *flow.Condition) (bool, error) {
	if cond.IsEmpty() {
		return true, nil
	}

	if cond.Platform != "" {
		info := o.driver.PlatformInfo()
		if info == nil || !strings.EqualFold(info.Platform, o.expandString(cond.Platform)) {
			return false, nil
		}
	}

	if cond.Visible != nil || cond.NotVisible != nil {
		h, err := o.driver.ViewHierarchy()
		if err != nil {
			return false, driverError(err)
		}
		if cond.Visible != nil {
			sel := o.expandSelector(*cond.Visible)
			nodes, err := findAll(h, &sel)
			if err != nil || len(nodes) == 0 {
				return false, err
			}
		}
		if cond.NotVisible != nil {
			sel := o.expandSelector(*cond.NotVisible)
			nodes, err := findAll(h, &sel)
			if err != nil || len(nodes) > 0 {
				return false, err
			}
		}
	}

	if cond.Script != "" {
		return o.evalScriptCondition(cond.Script)
	}
	return true, nil
}
