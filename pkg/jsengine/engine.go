// Package jsengine evaluates the JavaScript used by flows: runScript and
// evalScript bodies, assertTrue conditions and ${...} placeholders.
//
// One Engine belongs to one flow run. Variables of the current environment
// scope are bound as JS globals with Bind before every evaluation, so a
// script always sees exactly the scope it runs in.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
)

// ErrInterrupted is returned when a script is stopped by its context.
var ErrInterrupted = errors.New("script interrupted")

// variablePattern matches identifiers that look like environment variables.
var variablePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)

// Engine wraps a goja runtime.
type Engine struct {
	mu       sync.Mutex
	runtime  *goja.Runtime
	bound    map[string]bool
	output   *goja.Object
	platform string
}

// New creates an engine with the console, json, output and maestro globals.
func New() *Engine {
	e := &Engine{
		runtime: goja.New(),
		bound:   make(map[string]bool),
	}
	e.output = e.runtime.NewObject()
	e.setupBuiltins()
	return e
}

func (e *Engine) setupBuiltins() {
	console := e.runtime.NewObject()
	_ = console.Set("log", e.consoleFunc(logger.Info))
	_ = console.Set("warn", e.consoleFunc(logger.Warn))
	_ = console.Set("error", e.consoleFunc(logger.Error))
	_ = e.runtime.Set("console", console)

	_ = e.runtime.Set("json", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		v, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return v
	})

	_ = e.runtime.Set("output", e.output)

	maestro := e.runtime.NewObject()
	_ = maestro.DefineAccessorProperty("platform", e.runtime.ToValue(func() string {
		return e.platform
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = e.runtime.Set("maestro", maestro)
}

func (e *Engine) consoleFunc(log func(string, ...any)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		log("[js] %s", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// SetPlatform sets the value of maestro.platform.
func (e *Engine) SetPlatform(platform string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.platform = strings.ToLower(platform)
}

// Bind makes vars the set of environment globals. Globals bound by an
// earlier call that are absent from vars are removed, so a variable that
// went out of scope is undefined again.
func (e *Engine) Bind(vars *env.Mapping) {
	e.mu.Lock()
	defer e.mu.Unlock()

	global := e.runtime.GlobalObject()
	next := make(map[string]bool, vars.Len())
	for _, v := range vars.Vars() {
		_ = global.Set(v.Name, v.Value)
		next[v.Name] = true
	}
	for name := range e.bound {
		if !next[name] {
			_ = global.Delete(name)
		}
	}
	e.bound = next
}

// DeclareMissing defines every variable-like identifier in script that is
// not a global yet as undefined. A condition on an unset variable is then
// falsy instead of a ReferenceError.
func (e *Engine) DeclareMissing(script string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	global := e.runtime.GlobalObject()
	for _, name := range variablePattern.FindAllString(script, -1) {
		if global.Get(name) == nil {
			_ = global.Set(name, goja.Undefined())
		}
	}
}

// Output returns a copy of the values scripts stored on the output object.
func (e *Engine) Output() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]any)
	for _, k := range e.output.Keys() {
		out[k] = e.output.Get(k).Export()
	}
	return out
}

// Eval evaluates an expression and returns its exported value.
func (e *Engine) Eval(script string) (any, error) {
	v, err := e.run(context.Background(), script)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// EvalString evaluates an expression and formats the result. null and
// undefined become the empty string.
func (e *Engine) EvalString(script string) (string, error) {
	v, err := e.run(context.Background(), script)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates a condition with JS truthiness. A condition written as
// ${...} is unwrapped first.
func (e *Engine) EvalBool(script string) (bool, error) {
	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, "${") && strings.HasSuffix(script, "}") {
		script = script[2 : len(script)-1]
	}
	v, err := e.run(context.Background(), script)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// RunScript runs a script body. Cancelling ctx interrupts it.
func (e *Engine) RunScript(ctx context.Context, source string) error {
	_, err := e.run(ctx, source)
	return err
}

func (e *Engine) run(ctx context.Context, script string) (goja.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ErrInterrupted)
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	v, err := e.runtime.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
		return nil, fmt.Errorf("JS error: %w", err)
	}
	return v, nil
}

// ExpandVariables replaces every ${expr} in text with the value of expr.
// Braces nest. An expression that fails to evaluate is left as written.
func (e *Engine) ExpandVariables(text string) string {
	result := text
	start := 0

	for {
		idx := strings.Index(result[start:], "${")
		if idx == -1 {
			break
		}
		idx += start

		depth := 1
		end := idx + 2
		for end < len(result) && depth > 0 {
			switch result[end] {
			case '{':
				depth++
			case '}':
				depth--
			}
			end++
		}
		if depth != 0 {
			break
		}

		value, err := e.EvalString(result[idx+2 : end-1])
		if err != nil {
			logger.Debug("expand %q: %v", result[idx:end], err)
			start = end
			continue
		}
		result = result[:idx] + value + result[end:]
		start = idx + len(value)
	}

	return result
}
