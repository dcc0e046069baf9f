package executor

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/jsengine"
)

// runScript runs a JavaScript file with its env applied in a child scope.
func (o *Orchestra) runScript(ctx context.Context, s *flow.RunScriptStep) error {
	path := o.resolvePath(s.File)
	source, err := os.ReadFile(path) //#nosec G304 -- script path comes from the flow
	if err != nil {
		return core.ErrScriptFailed.WithMessagef("cannot read script %s", s.File).WithCause(err)
	}
	return o.scope.With(s.Env, func() error {
		o.js.Bind(o.scope.Current())
		return scriptError(ctx, o.js.RunScript(ctx, string(source)))
	})
}

// evalScript evaluates inline JavaScript, written bare or as ${...}.
func (o *Orchestra) evalScript(ctx context.Context, s *flow.EvalScriptStep) error {
	o.js.Bind(o.scope.Current())
	return scriptError(ctx, o.js.RunScript(ctx, extractJS(s.Script)))
}

// evalScriptCondition evaluates a JS condition. Unset variables referenced
// by the condition are falsy rather than an error.
func (o *Orchestra) evalScriptCondition(script string) (bool, error) {
	o.js.Bind(o.scope.Current())
	o.js.DeclareMissing(script)
	ok, err := o.js.EvalBool(script)
	if err != nil {
		return false, core.ErrScriptFailed.WithCause(err)
	}
	return ok, nil
}

func scriptError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jsengine.ErrInterrupted) && ctx.Err() != nil {
		return core.ErrStopped.WithCause(err)
	}
	return core.ErrScriptFailed.WithCause(err)
}

// extractJS strips a ${...} wrapper.
func extractJS(script string) string {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		return script[2 : len(script)-1]
	}
	return script
}
