package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

const (
	defaultSwipeDuration = 400 * time.Millisecond
	longPressDuration    = 3 * time.Second
	defaultEraseChars    = 50
)

// execute dispatches an expanded command.
func (o *Orchestra) execute(ctx context.Context, step flow.Step, out *report.CommandOutcome) error {
	switch s := step.(type) {
	// Interaction
	case *flow.TapOnStep:
		return o.tapOn(ctx, s)
	case *flow.TapOnPointStep:
		return o.tapOnPoint(s)
	case *flow.DoubleTapOnStep:
		return o.doubleTapOn(ctx, s)
	case *flow.LongPressOnStep:
		return o.longPressOn(ctx, s)
	case *flow.SwipeStep:
		return o.swipe(s)
	case *flow.ScrollStep:
		return o.scroll(s)
	case *flow.BackStep:
		return withCapability(o.driver, "back", func(k core.KeyPresser) error { return k.Back() })
	case *flow.HideKeyboardStep:
		return withCapability(o.driver, "hideKeyboard", func(k core.KeyPresser) error { return k.HideKeyboard() })

	// Text
	case *flow.InputTextStep:
		return driverError(o.driver.InputText(s.Text))
	case *flow.EraseTextStep:
		n := s.Characters
		if n <= 0 {
			n = defaultEraseChars
		}
		return withCapability(o.driver, "eraseText", func(e core.TextEraser) error { return e.EraseText(n) })
	case *flow.PressKeyStep:
		return withCapability(o.driver, "pressKey", func(k core.KeyPresser) error { return k.PressKey(s.Key) })

	// Assertions & waits
	case *flow.AssertVisibleStep:
		_, err := o.findElement(ctx, s.Selector, s.TimeoutMs)
		return err
	case *flow.AssertNotVisibleStep:
		return o.waitAbsent(ctx, s.Selector, s.TimeoutMs)
	case *flow.AssertTrueStep:
		return o.assertTrue(s)
	case *flow.AssertConditionStep:
		return o.assertCondition(s)
	case *flow.WaitUntilStep:
		return o.waitUntil(ctx, s)
	case *flow.WaitForAnimationToEndStep:
		timeout := o.opts.SettleTimeout
		if s.TimeoutMs > 0 {
			timeout = time.Duration(s.TimeoutMs) * time.Millisecond
		}
		return driverError(o.driver.WaitUntilSettled(timeout))

	// App & device
	case *flow.LaunchAppStep:
		return o.launchApp(s)
	case *flow.StopAppStep:
		return o.stopApp(s.AppID)
	case *flow.KillAppStep:
		return o.stopApp(s.AppID)
	case *flow.ClearStateStep:
		appID, err := o.requireAppID(s.AppID, "clearState")
		if err != nil {
			return err
		}
		return withCapability(o.driver, "clearState", func(c core.AppStateClearer) error { return c.ClearState(appID) })
	case *flow.SetLocationStep:
		return o.setLocation(s)
	case *flow.OpenLinkStep:
		return withCapability(o.driver, "openLink", func(l core.LinkOpener) error { return l.OpenLink(s.Link) })

	// Media
	case *flow.TakeScreenshotStep:
		return o.takeScreenshot(s, out)
	case *flow.AddMediaStep:
		paths := make([]string, len(s.Files))
		for i, f := range s.Files {
			paths[i] = o.resolvePath(f)
		}
		return withCapability(o.driver, "addMedia", func(m core.MediaAdder) error { return m.AddMedia(paths) })

	// Flow control & scripting
	case *flow.RunFlowStep:
		return o.runFlowCommand(ctx, s, out)
	case *flow.RepeatStep:
		return o.repeat(ctx, s, out)
	case *flow.RetryStep:
		return o.retry(ctx, s, out)
	case *flow.RunScriptStep:
		return o.runScript(ctx, s)
	case *flow.EvalScriptStep:
		return o.evalScript(ctx, s)
	case *flow.DefineVariablesStep:
		for _, v := range s.Env {
			o.scope.Set(v.Name, v.Value)
		}
		return nil

	default:
		return core.ErrNotSupported.WithMessagef("unsupported command %q", step.Type())
	}
}

// driverError tags plain driver errors as recoverable driver failures.
func driverError(err error) error {
	if err == nil {
		return nil
	}
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.ErrDriver.WithCause(err)
}

// withCapability runs fn if the driver implements T.
func withCapability[T any](d core.Driver, command string, fn func(T) error) error {
	c, ok := any(d).(T)
	if !ok {
		return core.ErrNotSupported.WithMessagef("%s is not supported by this driver", command)
	}
	return driverError(fn(c))
}

func (o *Orchestra) tapOn(ctx context.Context, s *flow.TapOnStep) error {
	el, err := o.findElement(ctx, s.Selector, s.TimeoutMs)
	if err != nil {
		return err
	}
	p := el.Bounds.Center()
	if s.LongPress {
		return driverError(o.driver.Swipe(p, p, longPressDuration))
	}
	for i := 0; i < max(s.Repeat, 1); i++ {
		if i > 0 && s.DelayMs > 0 {
			if err := sleep(ctx, time.Duration(s.DelayMs)*time.Millisecond); err != nil {
				return err
			}
		}
		if err := driverError(o.driver.Tap(p)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestra) doubleTapOn(ctx context.Context, s *flow.DoubleTapOnStep) error {
	el, err := o.findElement(ctx, s.Selector, s.TimeoutMs)
	if err != nil {
		return err
	}
	p := el.Bounds.Center()
	if err := driverError(o.driver.Tap(p)); err != nil {
		return err
	}
	return driverError(o.driver.Tap(p))
}

func (o *Orchestra) longPressOn(ctx context.Context, s *flow.LongPressOnStep) error {
	el, err := o.findElement(ctx, s.Selector, s.TimeoutMs)
	if err != nil {
		return err
	}
	p := el.Bounds.Center()
	return driverError(o.driver.Swipe(p, p, longPressDuration))
}

func (o *Orchestra) tapOnPoint(s *flow.TapOnPointStep) error {
	p := core.Point{X: s.X, Y: s.Y}
	if s.Point != "" {
		var err error
		if p, err = o.resolvePoint(s.Point); err != nil {
			return err
		}
	}
	return driverError(o.driver.Tap(p))
}

// swipeGestures maps a swipe direction to start and end points.
var swipeGestures = map[string][2]string{
	"UP":    {"50%, 70%", "50%, 30%"},
	"DOWN":  {"50%, 30%", "50%, 70%"},
	"LEFT":  {"80%, 50%", "20%, 50%"},
	"RIGHT": {"20%, 50%", "80%, 50%"},
}

func (o *Orchestra) swipe(s *flow.SwipeStep) error {
	start, end := s.Start, s.End
	if s.Direction != "" {
		g, ok := swipeGestures[strings.ToUpper(s.Direction)]
		if !ok {
			return core.ErrInvalidConfig.WithMessagef("unknown swipe direction %q", s.Direction)
		}
		start, end = g[0], g[1]
	}
	if start == "" || end == "" {
		return core.ErrMissingRequired.WithMessage("swipe requires a direction or start and end")
	}
	duration := defaultSwipeDuration
	if s.Duration > 0 {
		duration = time.Duration(s.Duration) * time.Millisecond
	}
	return o.swipeBetween(start, end, duration)
}

// scroll moves the content in the given direction, DOWN by default, which
// is a swipe the opposite way.
func (o *Orchestra) scroll(s *flow.ScrollStep) error {
	gestures := map[string]string{"DOWN": "UP", "UP": "DOWN", "LEFT": "RIGHT", "RIGHT": "LEFT"}
	direction := "DOWN"
	if s.Direction != "" {
		direction = strings.ToUpper(s.Direction)
	}
	swipe, ok := gestures[direction]
	if !ok {
		return core.ErrInvalidConfig.WithMessagef("unknown scroll direction %q", s.Direction)
	}
	g := swipeGestures[swipe]
	return o.swipeBetween(g[0], g[1], defaultSwipeDuration)
}

func (o *Orchestra) swipeBetween(start, end string, duration time.Duration) error {
	from, err := o.resolvePoint(start)
	if err != nil {
		return err
	}
	to, err := o.resolvePoint(end)
	if err != nil {
		return err
	}
	return driverError(o.driver.Swipe(from, to, duration))
}

// resolvePoint parses "x, y" in pixels or "x%, y%" relative to the screen.
func (o *Orchestra) resolvePoint(text string) (core.Point, error) {
	xs, ys, ok := strings.Cut(text, ",")
	if !ok {
		return core.Point{}, core.ErrInvalidConfig.WithMessagef("invalid point %q", text)
	}
	var width, height int
	if info := o.driver.PlatformInfo(); info != nil {
		width, height = info.ScreenWidth, info.ScreenHeight
	}
	x, err := coordinate(strings.TrimSpace(xs), width)
	if err != nil {
		return core.Point{}, core.ErrInvalidConfig.WithMessagef("invalid point %q", text).WithCause(err)
	}
	y, err := coordinate(strings.TrimSpace(ys), height)
	if err != nil {
		return core.Point{}, core.ErrInvalidConfig.WithMessagef("invalid point %q", text).WithCause(err)
	}
	return core.Point{X: x, Y: y}, nil
}

func coordinate(text string, size int) (int, error) {
	pct, relative := strings.CutSuffix(text, "%")
	if !relative {
		return strconv.Atoi(text)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
	if err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, errors.New("screen size unknown")
	}
	return int(f * float64(size) / 100), nil
}

func (o *Orchestra) assertTrue(s *flow.AssertTrueStep) error {
	ok, err := o.evalScriptCondition(s.Script)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrAssertionFailed.WithMessagef("assertTrue failed: %s", s.Script)
	}
	return nil
}

func (o *Orchestra) assertCondition(s *flow.AssertConditionStep) error {
	ok, err := o.checkCondition(&s.Condition)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrConditionNotMet
	}
	return nil
}

func (o *Orchestra) waitUntil(ctx context.Context, s *flow.WaitUntilStep) error {
	switch {
	case s.Visible != nil:
		_, err := o.findElement(ctx, *s.Visible, s.TimeoutMs)
		return err
	case s.NotVisible != nil:
		return o.waitAbsent(ctx, *s.NotVisible, s.TimeoutMs)
	default:
		return core.ErrMissingRequired.WithMessage("extendedWaitUntil requires visible or notVisible")
	}
}

func (o *Orchestra) requireAppID(appID, command string) (string, error) {
	if appID == "" {
		appID = o.appID()
	}
	if appID == "" {
		return "", core.ErrMissingRequired.WithMessagef("%s requires an appId", command)
	}
	return appID, nil
}

// launchApp stops the app first unless stopApp is false, optionally clears
// its state, then launches it.
func (o *Orchestra) launchApp(s *flow.LaunchAppStep) error {
	appID, err := o.requireAppID(s.AppID, "launchApp")
	if err != nil {
		return err
	}
	if s.StopApp == nil || *s.StopApp {
		if err := driverError(o.driver.StopApp(appID)); err != nil {
			if core.IsSessionLoss(err) {
				return err
			}
			logger.Debug("launchApp: stop %s: %v", appID, err)
		}
	}
	if s.ClearState {
		err := withCapability(o.driver, "clearState", func(c core.AppStateClearer) error { return c.ClearState(appID) })
		if err != nil {
			return err
		}
	}
	return driverError(o.driver.LaunchApp(appID, s.Arguments))
}

func (o *Orchestra) stopApp(appID string) error {
	appID, err := o.requireAppID(appID, "stopApp")
	if err != nil {
		return err
	}
	return driverError(o.driver.StopApp(appID))
}

func (o *Orchestra) setLocation(s *flow.SetLocationStep) error {
	lat, err := strconv.ParseFloat(strings.TrimSpace(s.Latitude), 64)
	if err != nil {
		return core.ErrInvalidConfig.WithMessagef("invalid latitude %q", s.Latitude)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(s.Longitude), 64)
	if err != nil {
		return core.ErrInvalidConfig.WithMessagef("invalid longitude %q", s.Longitude)
	}
	return driverError(o.driver.SetLocation(lat, lon))
}

// takeScreenshot writes a PNG under the output directory and attaches it.
func (o *Orchestra) takeScreenshot(s *flow.TakeScreenshotStep, out *report.CommandOutcome) error {
	data, err := o.driver.TakeScreenshot()
	if err != nil {
		return driverError(err)
	}
	name := s.Path
	if name == "" {
		o.artifactSeq++
		name = fmt.Sprintf("screenshot-%s-%03d", o.flowID, o.artifactSeq)
	}
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.opts.OutputDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.ErrDriver.WithMessage("cannot save screenshot").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.ErrDriver.WithMessage("cannot save screenshot").WithCause(err)
	}
	out.Attachments = append(out.Attachments, core.NewScreenshotAttachment(name))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
