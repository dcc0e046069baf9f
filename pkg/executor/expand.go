package executor

import (
	"strconv"
	"strings"

	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
)

// expand returns a copy of step with ${expr} and $NAME placeholders
// resolved against the current scope. The parsed step is never modified,
// so every repeat iteration expands from the original text. Children of
// composite commands are expanded when they run.
func (o *Orchestra) expand(step flow.Step) flow.Step {
	x := o.expandString
	switch s := step.(type) {
	case *flow.TapOnStep:
		c := *s
		c.Selector = o.expandSelector(s.Selector)
		return &c
	case *flow.DoubleTapOnStep:
		c := *s
		c.Selector = o.expandSelector(s.Selector)
		return &c
	case *flow.LongPressOnStep:
		c := *s
		c.Selector = o.expandSelector(s.Selector)
		return &c
	case *flow.TapOnPointStep:
		c := *s
		c.Point = x(s.Point)
		return &c
	case *flow.SwipeStep:
		c := *s
		c.Direction = x(s.Direction)
		c.Start = x(s.Start)
		c.End = x(s.End)
		return &c
	case *flow.ScrollStep:
		c := *s
		c.Direction = x(s.Direction)
		return &c
	case *flow.InputTextStep:
		c := *s
		c.Text = x(s.Text)
		return &c
	case *flow.PressKeyStep:
		c := *s
		c.Key = x(s.Key)
		return &c
	case *flow.AssertVisibleStep:
		c := *s
		c.Selector = o.expandSelector(s.Selector)
		return &c
	case *flow.AssertNotVisibleStep:
		c := *s
		c.Selector = o.expandSelector(s.Selector)
		return &c
	case *flow.WaitUntilStep:
		c := *s
		c.Visible = o.expandSelectorPtr(s.Visible)
		c.NotVisible = o.expandSelectorPtr(s.NotVisible)
		return &c
	case *flow.LaunchAppStep:
		c := *s
		c.AppID = x(s.AppID)
		return &c
	case *flow.StopAppStep:
		c := *s
		c.AppID = x(s.AppID)
		return &c
	case *flow.KillAppStep:
		c := *s
		c.AppID = x(s.AppID)
		return &c
	case *flow.ClearStateStep:
		c := *s
		c.AppID = x(s.AppID)
		return &c
	case *flow.SetLocationStep:
		c := *s
		c.Latitude = x(s.Latitude)
		c.Longitude = x(s.Longitude)
		return &c
	case *flow.OpenLinkStep:
		c := *s
		c.Link = x(s.Link)
		return &c
	case *flow.TakeScreenshotStep:
		c := *s
		c.Path = x(s.Path)
		return &c
	case *flow.AddMediaStep:
		c := *s
		c.Files = make([]string, len(s.Files))
		for i, f := range s.Files {
			c.Files[i] = x(f)
		}
		return &c
	case *flow.RunFlowStep:
		c := *s
		c.File = x(s.File)
		c.Env = o.expandVars(s.Env)
		return &c
	case *flow.RunScriptStep:
		c := *s
		c.File = x(s.File)
		c.Env = o.expandVars(s.Env)
		return &c
	case *flow.DefineVariablesStep:
		c := *s
		c.Env = o.expandVars(s.Env)
		return &c
	case *flow.RepeatStep:
		c := *s
		c.Times = x(s.Times)
		return &c
	case *flow.RetryStep:
		c := *s
		c.MaxRetries = x(s.MaxRetries)
		c.File = x(s.File)
		c.Env = o.expandVars(s.Env)
		return &c
	default:
		return step
	}
}

// expandString resolves ${expr} through the JS engine, then $NAME from
// the current scope.
func (o *Orchestra) expandString(text string) string {
	if !strings.Contains(text, "$") {
		return text
	}
	vars := o.scope.Current()
	o.js.Bind(vars)
	return env.ExpandDollar(o.js.ExpandVariables(text), vars)
}

func (o *Orchestra) expandVars(vars env.Vars) env.Vars {
	if len(vars) == 0 {
		return nil
	}
	out := make(env.Vars, len(vars))
	for i, v := range vars {
		out[i] = env.Var{Name: v.Name, Value: o.expandString(v.Value)}
	}
	return out
}

func (o *Orchestra) expandSelector(sel flow.Selector) flow.Selector {
	sel.Text = o.expandString(sel.Text)
	sel.ID = o.expandString(sel.ID)
	sel.Index = o.expandString(sel.Index)
	sel.ChildOf = o.expandSelectorPtr(sel.ChildOf)
	sel.Below = o.expandSelectorPtr(sel.Below)
	sel.Above = o.expandSelectorPtr(sel.Above)
	sel.LeftOf = o.expandSelectorPtr(sel.LeftOf)
	sel.RightOf = o.expandSelectorPtr(sel.RightOf)
	return sel
}

func (o *Orchestra) expandSelectorPtr(sel *flow.Selector) *flow.Selector {
	if sel == nil {
		return nil
	}
	expanded := o.expandSelector(*sel)
	return &expanded
}

// parseCount parses a non-negative count such as "3" or "10_000".
func parseCount(text string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(text), "_", ""))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
