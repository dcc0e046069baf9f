package flow

import (
	"fmt"

	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Navigation & Interaction
	StepTapOn        StepType = "tapOn"
	StepTapOnPoint   StepType = "tapOnPoint"
	StepDoubleTapOn  StepType = "doubleTapOn"
	StepLongPressOn  StepType = "longPressOn"
	StepSwipe        StepType = "swipe"
	StepScroll       StepType = "scroll"
	StepBack         StepType = "back"
	StepHideKeyboard StepType = "hideKeyboard"

	// Text
	StepInputText StepType = "inputText"
	StepEraseText StepType = "eraseText"
	StepPressKey  StepType = "pressKey"

	// Assertions & waits
	StepAssertVisible         StepType = "assertVisible"
	StepAssertNotVisible      StepType = "assertNotVisible"
	StepAssertTrue            StepType = "assertTrue"
	StepAssertCondition       StepType = "assertCondition"
	StepWaitUntil             StepType = "extendedWaitUntil"
	StepWaitForAnimationToEnd StepType = "waitForAnimationToEnd"

	// App & device
	StepLaunchApp   StepType = "launchApp"
	StepStopApp     StepType = "stopApp"
	StepKillApp     StepType = "killApp"
	StepClearState  StepType = "clearState"
	StepSetLocation StepType = "setLocation"
	StepOpenLink    StepType = "openLink"

	// Media
	StepTakeScreenshot StepType = "takeScreenshot"
	StepAddMedia       StepType = "addMedia"

	// Flow control & scripting
	StepRunFlow         StepType = "runFlow"
	StepRunScript       StepType = "runScript"
	StepEvalScript      StepType = "evalScript"
	StepDefineVariables StepType = "defineVariables"
	StepRepeat          StepType = "repeat"
	StepRetry           StepType = "retry"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// Composite is implemented by steps that own a nested command sequence.
// Children returns inline commands only; file references are loaded by
// whoever executes or walks the step.
type Composite interface {
	Step
	Children() []Step
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

func (b *BaseStep) setType(t StepType) { b.StepType = t }

// ============================================
// Navigation & Interaction
// ============================================

// TapOnStep taps on an element.
type TapOnStep struct {
	BaseStep  `yaml:",inline"`
	Selector  Selector `yaml:"-"`
	LongPress bool     `yaml:"longPress"`
	Repeat    int      `yaml:"repeat"`
	DelayMs   int      `yaml:"delay"`
}

// TapOnPointStep taps on coordinates, absolute or "x%, y%".
type TapOnPointStep struct {
	BaseStep `yaml:",inline"`
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
	Point    string `yaml:"point"`
}

// DoubleTapOnStep double taps on an element.
type DoubleTapOnStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:"-"`
}

// LongPressOnStep long presses on an element.
type LongPressOnStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:"-"`
}

// SwipeStep performs a swipe gesture.
type SwipeStep struct {
	BaseStep  `yaml:",inline"`
	Direction string `yaml:"direction"` // UP, DOWN, LEFT, RIGHT
	Start     string `yaml:"start"`     // "x%, y%"
	End       string `yaml:"end"`       // "x%, y%"
	Duration  int    `yaml:"duration"`  // ms
}

// ScrollStep scrolls the screen.
type ScrollStep struct {
	BaseStep  `yaml:",inline"`
	Direction string `yaml:"direction"`
}

// BackStep presses back.
type BackStep struct {
	BaseStep `yaml:",inline"`
}

// HideKeyboardStep hides the keyboard.
type HideKeyboardStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// Text
// ============================================

// InputTextStep types text into the focused field.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// EraseTextStep erases characters.
type EraseTextStep struct {
	BaseStep   `yaml:",inline"`
	Characters int `yaml:"characters"`
}

// PressKeyStep presses a key.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// ============================================
// Assertions & waits
// ============================================

// AssertVisibleStep asserts an element becomes visible.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:"-"`
}

// AssertNotVisibleStep asserts an element disappears.
type AssertNotVisibleStep struct {
	BaseStep `yaml:",inline"`
	Selector Selector `yaml:"-"`
}

// AssertTrueStep asserts a script expression is truthy.
type AssertTrueStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"condition"`
}

// AssertConditionStep asserts a condition.
type AssertConditionStep struct {
	BaseStep  `yaml:",inline"`
	Condition Condition `yaml:"-"`
}

// WaitUntilStep waits for an element to appear or disappear.
type WaitUntilStep struct {
	BaseStep   `yaml:",inline"`
	Visible    *Selector `yaml:"visible"`
	NotVisible *Selector `yaml:"notVisible"`
}

// WaitForAnimationToEndStep waits for the screen to settle.
type WaitForAnimationToEndStep struct {
	BaseStep `yaml:",inline"`
}

// ============================================
// App & device
// ============================================

// LaunchAppStep launches an app.
type LaunchAppStep struct {
	BaseStep   `yaml:",inline"`
	AppID      string         `yaml:"appId"`
	ClearState bool           `yaml:"clearState"`
	StopApp    *bool          `yaml:"stopApp"`
	Arguments  map[string]any `yaml:"arguments"`
}

// StopAppStep stops an app.
type StopAppStep struct {
	BaseStep `yaml:",inline"`
	AppID    string `yaml:"appId"`
}

// KillAppStep kills an app.
type KillAppStep struct {
	BaseStep `yaml:",inline"`
	AppID    string `yaml:"appId"`
}

// ClearStateStep clears app data.
type ClearStateStep struct {
	BaseStep `yaml:",inline"`
	AppID    string `yaml:"appId"`
}

// SetLocationStep sets the device location.
type SetLocationStep struct {
	BaseStep  `yaml:",inline"`
	Latitude  string `yaml:"latitude"`  // String for variable support
	Longitude string `yaml:"longitude"` // String for variable support
}

// OpenLinkStep opens a URL or deep link.
type OpenLinkStep struct {
	BaseStep `yaml:",inline"`
	Link     string `yaml:"link"`
}

// ============================================
// Media
// ============================================

// TakeScreenshotStep saves a screenshot under the output directory.
type TakeScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Path     string `yaml:"path"`
}

// AddMediaStep pushes media files to the device.
type AddMediaStep struct {
	BaseStep `yaml:",inline"`
	Files    []string `yaml:"files"`
}

// ============================================
// Flow control & scripting
// ============================================

// RunFlowStep runs another flow file or an inline command list.
type RunFlowStep struct {
	BaseStep `yaml:",inline"`
	File     string     `yaml:"file"`
	Steps    []Step     `yaml:"-"`
	When     *Condition `yaml:"when"`
	Env      env.Vars   `yaml:"env"`
}

// Children returns the inline commands.
func (s *RunFlowStep) Children() []Step { return s.Steps }

// RunScriptStep runs a JavaScript file.
type RunScriptStep struct {
	BaseStep `yaml:",inline"`
	File     string   `yaml:"file"`
	Env      env.Vars `yaml:"env"`
}

// EvalScriptStep evaluates inline JavaScript.
type EvalScriptStep struct {
	BaseStep `yaml:",inline"`
	Script   string `yaml:"script"`
}

// DefineVariablesStep binds variables in the current scope.
type DefineVariablesStep struct {
	BaseStep `yaml:",inline"`
	Env      env.Vars `yaml:"env"`
}

// RepeatStep repeats its commands a number of times or while a condition holds.
type RepeatStep struct {
	BaseStep `yaml:",inline"`
	Times    string     `yaml:"times"` // String for variable support
	While    *Condition `yaml:"while"`
	Steps    []Step     `yaml:"-"`
}

// Children returns the repeated commands.
func (s *RepeatStep) Children() []Step { return s.Steps }

// RetryStep reruns its commands until they pass or attempts run out.
type RetryStep struct {
	BaseStep   `yaml:",inline"`
	MaxRetries string   `yaml:"maxRetries"` // String for variable support
	File       string   `yaml:"file"`
	Env        env.Vars `yaml:"env"`
	Steps      []Step   `yaml:"-"`
}

// Children returns the inline commands.
func (s *RetryStep) Children() []Step { return s.Steps }

// ============================================
// Describe() implementations
// ============================================

// Describe returns a human-readable description of the tap step.
func (s *TapOnStep) Describe() string {
	return "tapOn: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the tap-on-point step.
func (s *TapOnPointStep) Describe() string {
	if s.Point != "" {
		return "tapOnPoint: " + s.Point
	}
	return fmt.Sprintf("tapOnPoint: %d,%d", s.X, s.Y)
}

// Describe returns a human-readable description of the double tap step.
func (s *DoubleTapOnStep) Describe() string {
	return "doubleTapOn: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the long press step.
func (s *LongPressOnStep) Describe() string {
	return "longPressOn: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the swipe step.
func (s *SwipeStep) Describe() string {
	if s.Direction != "" {
		return "swipe: " + s.Direction
	}
	return "swipe: " + s.Start + " -> " + s.End
}

// Describe returns a human-readable description of the scroll step.
func (s *ScrollStep) Describe() string {
	if s.Direction != "" {
		return "scroll: " + s.Direction
	}
	return "scroll"
}

// Describe returns a human-readable description of the input text step.
func (s *InputTextStep) Describe() string {
	return "inputText: \"" + s.Text + "\""
}

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string {
	return "pressKey: " + s.Key
}

// Describe returns a human-readable description of the assert visible step.
func (s *AssertVisibleStep) Describe() string {
	return "assertVisible: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert not visible step.
func (s *AssertNotVisibleStep) Describe() string {
	return "assertNotVisible: " + s.Selector.DescribeQuoted()
}

// Describe returns a human-readable description of the assert true step.
func (s *AssertTrueStep) Describe() string {
	return "assertTrue: " + s.Script
}

// Describe returns a human-readable description of the wait until step.
func (s *WaitUntilStep) Describe() string {
	if s.Visible != nil {
		return "extendedWaitUntil: visible " + s.Visible.DescribeQuoted()
	}
	if s.NotVisible != nil {
		return "extendedWaitUntil: notVisible " + s.NotVisible.DescribeQuoted()
	}
	return "extendedWaitUntil"
}

// Describe returns a human-readable description of the launch app step.
func (s *LaunchAppStep) Describe() string {
	desc := "launchApp"
	if s.AppID != "" {
		desc += ": " + s.AppID
	}
	if s.ClearState {
		desc += " (clearState)"
	}
	return desc
}

// Describe returns a human-readable description of the stop app step.
func (s *StopAppStep) Describe() string {
	if s.AppID != "" {
		return "stopApp: " + s.AppID
	}
	return "stopApp"
}

// Describe returns a human-readable description of the open link step.
func (s *OpenLinkStep) Describe() string {
	return "openLink: " + s.Link
}

// Describe returns a human-readable description of the set location step.
func (s *SetLocationStep) Describe() string {
	return "setLocation: " + s.Latitude + ", " + s.Longitude
}

// Describe returns a human-readable description of the run flow step.
func (s *RunFlowStep) Describe() string {
	if s.File != "" {
		return "runFlow: " + s.File
	}
	return "runFlow"
}

// Describe returns a human-readable description of the run script step.
func (s *RunScriptStep) Describe() string {
	return "runScript: " + s.File
}

// Describe returns a human-readable description of the repeat step.
func (s *RepeatStep) Describe() string {
	if s.Times != "" {
		return "repeat: " + s.Times + " times"
	}
	return "repeat"
}

// Describe returns a human-readable description of the retry step.
func (s *RetryStep) Describe() string {
	if s.File != "" {
		return "retry: " + s.File
	}
	return "retry"
}
