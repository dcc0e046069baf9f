package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

func TestRunFlow_AllCompleted(t *testing.T) {
	submit := core.ElementInfo{ID: "submit", Visible: true, Bounds: core.Bounds{X: 0, Y: 600, Width: 200, Height: 100}}
	driver := newFakeDriver(button("Login", 100, 200), submit)
	f := parseFlow(t, t.TempDir(), "login.yaml", `
appId: com.example.app
env:
  USER: alice
---
- launchApp
- tapOn: Login
- inputText: "${USER}"
- inputText: $USER
- assertVisible:
    id: submit
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowSuccess {
		t.Fatalf("Status = %v, failure = %+v", result.Status, result.Failure)
	}
	want := []string{
		"stop com.example.app",
		"launch com.example.app",
		"tap 150,225",
		"input alice",
		"input alice",
	}
	if diff := cmp.Diff(want, driver.Calls()); diff != "" {
		t.Errorf("driver calls mismatch (-want +got):\n%s", diff)
	}
	if result.ID == "" || result.Name != "login" || result.Device != "Pixel 7" {
		t.Errorf("result header = %q %q %q", result.ID, result.Name, result.Device)
	}
	if c := result.Counts(); c.Completed != 5 || c.Total != 5 {
		t.Errorf("Counts() = %+v", c)
	}
}

func TestRunFlow_OptionalFailureWarns(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
- tapOn:
    text: Missing
    optional: true
- inputText: after
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	want := []core.CommandStatus{core.CommandWarned, core.CommandCompleted}
	if diff := cmp.Diff(want, statuses(result.Commands)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if result.Status != core.FlowWarning {
		t.Errorf("Status = %v, want WARNING", result.Status)
	}
	if got := result.Commands[0].Failure; got == nil || got.Category != core.ErrCategoryAssertion {
		t.Errorf("warned command failure = %+v", got)
	}
	if result.Failure != nil {
		t.Errorf("a WARNING flow has no failure, got %+v", result.Failure)
	}
	if driver.count("input after") != 1 {
		t.Error("command after an optional failure did not run")
	}
}

func TestRunFlow_FatalFailureSkipsRemaining(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
- inputText: first
- tapOn: Missing
- inputText: never
- back
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	want := []core.CommandStatus{core.CommandCompleted, core.CommandFailed, core.CommandSkipped, core.CommandSkipped}
	if diff := cmp.Diff(want, statuses(result.Commands)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if result.Status != core.FlowError {
		t.Errorf("Status = %v, want ERROR", result.Status)
	}
	if result.Failure == nil || result.Failure.Code != core.ErrElementNotFound.Code {
		t.Errorf("Failure = %+v", result.Failure)
	}
	if diff := cmp.Diff([]string{"input first"}, driver.Calls()); diff != "" {
		t.Errorf("skipped commands reached the driver (-want +got):\n%s", diff)
	}
	if result.Commands[3].Description != "back" {
		t.Errorf("skipped outcome description = %q", result.Commands[3].Description)
	}
}

func TestRunFlow_SessionLossIgnoresOptional(t *testing.T) {
	driver := newFakeDriver(button("Login", 0, 0))
	driver.tapFunc = func(core.Point) error { return core.ErrSessionLost }
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
- tapOn:
    text: Login
    optional: true
- inputText: never
`)

	orch := New(driver, testOptions())
	result := orch.RunFlow(context.Background(), f)

	want := []core.CommandStatus{core.CommandFailed, core.CommandSkipped}
	if diff := cmp.Diff(want, statuses(result.Commands)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if !orch.SessionLost() {
		t.Error("SessionLost() = false")
	}
	if result.Failure == nil || result.Failure.Category != core.ErrCategorySession {
		t.Errorf("Failure = %+v", result.Failure)
	}
}

func TestRunFlow_PlainDriverErrorIsDriverFailure(t *testing.T) {
	driver := newFakeDriver()
	driver.launchFunc = func(string) error { return errors.New("adb: device offline") }
	f := parseFlow(t, t.TempDir(), "flow.yaml", "appId: com.example\n---\n- launchApp\n")

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	got := result.Commands[0].Failure
	if got == nil || got.Category != core.ErrCategoryDriver || got.Code != core.ErrDriver.Code {
		t.Fatalf("Failure = %+v", got)
	}
	if !strings.Contains(got.Message, "adb: device offline") {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestRunFlow_CancelStopsAfterInFlightCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := newFakeDriver(button("Login", 0, 0))
	driver.tapFunc = func(core.Point) error {
		cancel()
		return nil
	}
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
onFlowComplete:
  - inputText: cleanup
---
- tapOn: Login
- inputText: never
`)
	progress := report.NewRunningFlow(f.Name(), f.SourcePath)

	result := New(driver, testOptions()).WithProgress(progress).RunFlow(ctx, f)

	if result.Status != core.FlowStopped {
		t.Errorf("Status = %v, want STOPPED", result.Status)
	}
	want := []core.CommandStatus{core.CommandCompleted, core.CommandSkipped}
	if diff := cmp.Diff(want, statuses(result.Commands)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if len(result.OnFlowComplete) != 1 || result.OnFlowComplete[0].Status != core.CommandCompleted {
		t.Errorf("onFlowComplete = %+v", result.OnFlowComplete)
	}
	if driver.count("input cleanup") != 1 || driver.count("input never") != 0 {
		t.Errorf("calls = %v", driver.Calls())
	}
	if result.Failure == nil || result.Failure.Code != core.ErrStopped.Code {
		t.Errorf("Failure = %+v", result.Failure)
	}
	if got := progress.Status(); got != core.FlowStopped {
		t.Errorf("progress status = %v", got)
	}
}

func TestRunFlow_OnFlowStartFailureSkipsMain(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
onFlowStart:
  - tapOn: Missing
onFlowComplete:
  - inputText: cleanup
---
- inputText: main
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowError {
		t.Errorf("Status = %v, want ERROR", result.Status)
	}
	if got := statuses(result.OnFlowStart); !cmp.Equal(got, []core.CommandStatus{core.CommandFailed}) {
		t.Errorf("onFlowStart = %v", got)
	}
	if got := statuses(result.Commands); !cmp.Equal(got, []core.CommandStatus{core.CommandSkipped}) {
		t.Errorf("commands = %v", got)
	}
	if diff := cmp.Diff([]string{"input cleanup"}, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFlow_HooksRunInOrder(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
onFlowStart:
  - inputText: start
onFlowComplete:
  - inputText: done
---
- inputText: main
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowSuccess {
		t.Errorf("Status = %v", result.Status)
	}
	want := []string{"input start", "input main", "input done"}
	if diff := cmp.Diff(want, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFlow_OnFlowCompleteFailureFailsFlow(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
onFlowComplete:
  - tapOn: Missing
---
- inputText: main
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowError {
		t.Errorf("Status = %v, want ERROR", result.Status)
	}
	if result.Failure == nil || result.Failure.Code != core.ErrElementNotFound.Code {
		t.Errorf("Failure = %+v", result.Failure)
	}
}

func TestRunFlow_AssertionsAndScripts(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
env:
  COUNT: "3"
---
- assertTrue: ${COUNT == 3}
- assertTrue:
    condition: ${UNSET_VAR}
    optional: true
- assertCondition:
    notVisible: Error
- evalScript: ${output.greeting = 'hi ' + COUNT}
- inputText: ${output.greeting}
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	want := []core.CommandStatus{
		core.CommandCompleted, core.CommandWarned, core.CommandCompleted,
		core.CommandCompleted, core.CommandCompleted,
	}
	if diff := cmp.Diff(want, statuses(result.Commands)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if got := result.Commands[1].Failure; got == nil || got.Code != core.ErrAssertionFailed.Code {
		t.Errorf("assertTrue failure = %+v", got)
	}
	if driver.count("input hi 3") != 1 {
		t.Errorf("calls = %v", driver.Calls())
	}
}

func TestRunFlow_RunScriptFileWithEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scripts/setup.js", "output.user = USERNAME.toUpperCase()")
	driver := newFakeDriver()
	f := parseFlow(t, dir, "flow.yaml", `
- runScript:
    file: scripts/setup.js
    env:
      USERNAME: carol
- inputText: ${output.user}
- inputText: $USERNAME
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowSuccess {
		t.Fatalf("Status = %v, failure = %+v", result.Status, result.Failure)
	}
	want := []string{"input CAROL", "input $USERNAME"}
	if diff := cmp.Diff(want, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFlow_UnsupportedCapability(t *testing.T) {
	driver := bareDriver{newFakeDriver()}
	f := parseFlow(t, t.TempDir(), "flow.yaml", "- back\n")

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	got := result.Commands[0].Failure
	if got == nil || got.Code != core.ErrNotSupported.Code || got.Category != core.ErrCategoryDriver {
		t.Errorf("Failure = %+v", got)
	}
}

func TestRunFlow_GesturesAndDeviceCommands(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
appId: com.example
---
- tapOnPoint: "50%, 25%"
- swipe: LEFT
- scroll
- pressKey: Enter
- eraseText
- hideKeyboard
- openLink: https://example.com
- clearState
- setLocation:
    latitude: "52.5"
    longitude: "13.4"
- waitForAnimationToEnd
`)

	result := New(driver, testOptions()).RunFlow(context.Background(), f)

	if result.Status != core.FlowSuccess {
		t.Fatalf("Status = %v, failure = %+v", result.Status, result.Failure)
	}
	want := []string{
		"tap 500,500",
		"swipe 800,1000->200,1000 400ms",
		"swipe 500,1400->500,600 400ms",
		"key Enter",
		"erase 50",
		"hideKeyboard",
		"link https://example.com",
		"clear com.example",
		"location 52.5,13.4",
		"settle 5s",
	}
	if diff := cmp.Diff(want, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFlow_LaunchAppWithoutAppID(t *testing.T) {
	f := parseFlow(t, t.TempDir(), "flow.yaml", "- launchApp\n")

	result := New(newFakeDriver(), testOptions()).RunFlow(context.Background(), f)

	if got := result.Commands[0].Failure; got == nil || got.Code != core.ErrMissingRequired.Code {
		t.Errorf("Failure = %+v", got)
	}
}

func TestRunFlow_ListenerAndProgress(t *testing.T) {
	driver := newFakeDriver()
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
- runFlow:
    commands:
      - inputText: a
      - inputText: b
- inputText: c
`)

	var started, completed, nested []string
	var ended *report.FlowResult
	opts := testOptions()
	opts.Listener = Listener{
		OnCommandStart:    func(_ int, desc string) { started = append(started, desc) },
		OnCommandComplete: func(o *report.CommandOutcome) { completed = append(completed, o.Description) },
		OnNestedCommand: func(depth int, o *report.CommandOutcome) {
			if depth != 1 {
				t.Errorf("nested depth = %d", depth)
			}
			nested = append(nested, o.Description)
		},
		OnFlowEnd: func(r *report.FlowResult) { ended = r },
	}
	progress := report.NewRunningFlow(f.Name(), f.SourcePath)

	result := New(driver, opts).WithProgress(progress).RunFlow(context.Background(), f)

	if diff := cmp.Diff([]string{"runFlow", `inputText: "c"`}, started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(started, completed); diff != "" {
		t.Errorf("completed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{`inputText: "a"`, `inputText: "b"`}, nested); diff != "" {
		t.Errorf("nested mismatch (-want +got):\n%s", diff)
	}
	if ended != result {
		t.Error("OnFlowEnd did not receive the result")
	}

	snap := progress.Snapshot()
	if snap.Status != core.FlowSuccess || snap.CommandIndex != 1 || snap.Command != `inputText: "c"` {
		t.Errorf("progress snapshot = %+v", snap)
	}
}

func TestRunFlow_CapturesArtifactsOnFailure(t *testing.T) {
	out := t.TempDir()
	opts := testOptions()
	opts.OutputDir = out
	opts.Artifacts = core.DefaultArtifactConfig()
	f := parseFlow(t, t.TempDir(), "flow.yaml", "- tapOn: Missing\n")

	result := New(newFakeDriver(), opts).RunFlow(context.Background(), f)

	attachments := result.Commands[0].Attachments
	if len(attachments) != 2 {
		t.Fatalf("attachments = %+v", attachments)
	}
	for _, a := range attachments {
		if _, err := os.Stat(filepath.Join(out, a.Path)); err != nil {
			t.Errorf("attachment %s not written: %v", a.Path, err)
		}
	}
}

func TestRunFlow_TakeScreenshot(t *testing.T) {
	out := t.TempDir()
	opts := testOptions()
	opts.OutputDir = out
	f := parseFlow(t, t.TempDir(), "flow.yaml", "- takeScreenshot: shots/home\n")

	result := New(newFakeDriver(), opts).RunFlow(context.Background(), f)

	if result.Status != core.FlowSuccess {
		t.Fatalf("Status = %v, failure = %+v", result.Status, result.Failure)
	}
	want := []core.Attachment{core.NewScreenshotAttachment(filepath.Join("shots", "home.png"))}
	if diff := cmp.Diff(want, result.Commands[0].Attachments); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(out, "shots", "home.png")); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
}

func TestExpand_DoesNotMutateParsedSteps(t *testing.T) {
	f := parseFlow(t, t.TempDir(), "flow.yaml", `
env:
  NAME: dave
---
- tapOn: ${NAME}
- inputText: Hello $NAME
`)
	driver := newFakeDriver(button("dave", 0, 0))

	New(driver, testOptions()).RunFlow(context.Background(), f)

	if got := f.Steps[0].(*flow.TapOnStep).Selector.Text; got != "${NAME}" {
		t.Errorf("tapOn selector mutated to %q", got)
	}
	if got := f.Steps[1].(*flow.InputTextStep).Text; got != "Hello $NAME" {
		t.Errorf("inputText mutated to %q", got)
	}
	if driver.count("input Hello dave") != 1 {
		t.Errorf("calls = %v", driver.Calls())
	}
}
