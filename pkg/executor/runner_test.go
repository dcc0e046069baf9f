package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
)

func flowStatuses(suite *report.SuiteResult) []core.FlowStatus {
	out := make([]core.FlowStatus, len(suite.Flows))
	for i, f := range suite.Flows {
		out[i] = f.Status
	}
	return out
}

func suiteFlows(t *testing.T, dir string, sources ...string) []*flow.Flow {
	t.Helper()
	flows := make([]*flow.Flow, len(sources))
	for i, src := range sources {
		flows[i] = parseFlow(t, dir, string(rune('a'+i))+".yaml", src)
	}
	return flows
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n",
		"- tapOn:\n    text: Missing\n    optional: true\n",
		"- tapOn: Missing\n",
		"- inputText: d\n",
	)
	driver := newFakeDriver()
	progress := report.NewRunningFlows(flows)

	var ended []string
	var mu sync.Mutex
	cfg := RunnerConfig{Options: testOptions(), Progress: progress}
	cfg.Options.Listener.OnFlowEnd = func(r *report.FlowResult) {
		mu.Lock()
		ended = append(ended, r.Name)
		mu.Unlock()
	}

	suite := NewRunner(driver, cfg).Run(context.Background(), flows)

	want := []core.FlowStatus{core.FlowSuccess, core.FlowWarning, core.FlowError, core.FlowSuccess}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
	if suite.Status != core.FlowError || suite.Passed() {
		t.Errorf("suite status = %v", suite.Status)
	}
	if suite.Name != report.DefaultSuiteName || suite.Device != "Pixel 7" {
		t.Errorf("suite header = %q %q", suite.Name, suite.Device)
	}
	if passed, failed := suite.Tally(); passed != 3 || failed != 1 {
		t.Errorf("Tally() = %d, %d", passed, failed)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, ended); diff != "" {
		t.Errorf("OnFlowEnd mismatch (-want +got):\n%s", diff)
	}
	if !progress.Done() || progress.Status() != core.FlowError {
		t.Errorf("progress done=%v status=%v", progress.Done(), progress.Status())
	}
}

func TestRunner_FreshScopePerFlow(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- defineVariables:\n    LEAK: yes\n- evalScript: ${output.x = 'set'}\n",
		"- inputText: $LEAK\n- inputText: ${output.x}\n",
	)
	driver := newFakeDriver()

	NewRunner(driver, RunnerConfig{Options: testOptions()}).Run(context.Background(), flows)

	want := []string{"input $LEAK", "input "}
	if diff := cmp.Diff(want, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunner_SessionLossStopsRemainingFlows(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n",
		"- inputText: b\n",
		"onFlowStart:\n  - back\n---\n- inputText: c\n",
	)
	driver := newFakeDriver()
	driver.inputFunc = func(text string) error {
		if text == "b" {
			return core.ErrSessionLost
		}
		return nil
	}

	suite := NewRunner(driver, RunnerConfig{Options: testOptions()}).Run(context.Background(), flows)

	want := []core.FlowStatus{core.FlowSuccess, core.FlowError, core.FlowStopped}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
	stopped := suite.Flows[2]
	if diff := cmp.Diff([]core.CommandStatus{core.CommandSkipped}, statuses(stopped.OnFlowStart)); diff != "" {
		t.Errorf("stopped hooks mismatch (-want +got):\n%s", diff)
	}
	if stopped.Failure == nil || stopped.Failure.Code != core.ErrStopped.Code {
		t.Errorf("stopped failure = %+v", stopped.Failure)
	}
	if driver.count("back") != 0 || driver.count("input c") != 0 {
		t.Errorf("calls = %v", driver.Calls())
	}
	if suite.Status != core.FlowStopped {
		t.Errorf("suite status = %v, want STOPPED", suite.Status)
	}
}

func TestRunner_StopOnFail(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- tapOn: Missing\n",
		"- inputText: b\n",
	)
	cfg := RunnerConfig{Options: testOptions(), StopOnFail: true, SuiteName: "smoke"}

	suite := NewRunner(newFakeDriver(), cfg).Run(context.Background(), flows)

	want := []core.FlowStatus{core.FlowError, core.FlowStopped}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
	if suite.Name != "smoke" {
		t.Errorf("suite name = %q", suite.Name)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n- inputText: a2\n",
		"- inputText: b\n",
	)
	driver := newFakeDriver()
	driver.inputFunc = func(text string) error {
		if text == "a" {
			cancel()
		}
		return nil
	}

	suite := NewRunner(driver, RunnerConfig{Options: testOptions()}).Run(ctx, flows)

	want := []core.FlowStatus{core.FlowStopped, core.FlowStopped}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"input a"}, driver.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunner_SharesFlowCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common/login.yaml", "- inputText: login\n")
	flows := suiteFlows(t, dir,
		"- runFlow: common/login.yaml\n",
		"- runFlow: common/login.yaml\n",
	)
	cache := NewFlowCache()
	opts := testOptions()
	opts.Flows = cache

	suite := NewRunner(newFakeDriver(), RunnerConfig{Options: opts}).Run(context.Background(), flows)

	if !suite.Passed() {
		t.Fatalf("suite status = %v", suite.Status)
	}
	if cache.Len() != 1 {
		t.Errorf("FlowCache.Len() = %d, want 1", cache.Len())
	}
}

func TestParallelRunner_Run(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n",
		"- tapOn: Missing\n",
		"- inputText: c\n",
		"- inputText: d\n",
	)
	var cleaned sync.WaitGroup
	cleaned.Add(2)
	d1, d2 := newFakeDriver(), newFakeDriver()
	workers := []DeviceWorker{
		{ID: 0, DeviceID: "emulator-5554", Driver: d1, Cleanup: cleaned.Done},
		{ID: 1, DeviceID: "emulator-5556", Driver: d2, Cleanup: cleaned.Done},
	}

	suite, err := NewParallelRunner(workers, RunnerConfig{Options: testOptions()}).Run(context.Background(), flows)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cleaned.Wait()

	want := []core.FlowStatus{core.FlowSuccess, core.FlowError, core.FlowSuccess, core.FlowSuccess}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
	for i, name := range []string{"a", "b", "c", "d"} {
		if suite.Flows[i].Name != name {
			t.Errorf("Flows[%d] = %q, want %q", i, suite.Flows[i].Name, name)
		}
	}
	if got := len(d1.Calls()) + len(d2.Calls()); got != 3 {
		t.Errorf("workers made %d calls, want 3", got)
	}
	if suite.Device != "emulator-5554, emulator-5556" {
		t.Errorf("Device = %q", suite.Device)
	}
}

func TestParallelRunner_SessionLossLeavesQueue(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n",
		"- inputText: b\n",
		"- inputText: c\n",
	)
	lost := newFakeDriver()
	lost.inputFunc = func(string) error { return core.ErrSessionLost }
	workers := []DeviceWorker{{ID: 0, DeviceID: "lost", Driver: lost}}

	suite, err := NewParallelRunner(workers, RunnerConfig{Options: testOptions()}).Run(context.Background(), flows)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []core.FlowStatus{core.FlowError, core.FlowStopped, core.FlowStopped}
	if diff := cmp.Diff(want, flowStatuses(suite)); diff != "" {
		t.Errorf("flow statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestParallelRunner_SessionLossStopsOtherWorkers(t *testing.T) {
	dir := t.TempDir()
	flows := suiteFlows(t, dir,
		"- inputText: a\n",
		"- inputText: b\n",
		"- inputText: c\n",
		"- inputText: d\n",
	)
	// The healthy worker is mid-flow when the other device is lost.
	started, lostDone := make(chan struct{}), make(chan struct{})
	var once sync.Once
	lost := newFakeDriver()
	lost.inputFunc = func(string) error {
		<-started
		return core.ErrSessionLost
	}
	healthy := newFakeDriver()
	healthy.inputFunc = func(string) error {
		once.Do(func() { close(started) })
		<-lostDone
		return nil
	}
	workers := []DeviceWorker{
		{ID: 0, DeviceID: "lost", Driver: lost, Cleanup: func() { close(lostDone) }},
		{ID: 1, DeviceID: "healthy", Driver: healthy},
	}

	suite, err := NewParallelRunner(workers, RunnerConfig{Options: testOptions()}).Run(context.Background(), flows)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	counts := map[core.FlowStatus]int{}
	for _, status := range flowStatuses(suite) {
		counts[status]++
	}
	want := map[core.FlowStatus]int{core.FlowError: 1, core.FlowSuccess: 1, core.FlowStopped: 2}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("status counts mismatch (-want +got):\n%s", diff)
	}
	if got := healthy.count("input"); got != 1 {
		t.Errorf("healthy worker ran %d flows after the session loss, want only its in-flight one", got)
	}
}

func TestParallelRunner_NoWorkers(t *testing.T) {
	_, err := NewParallelRunner(nil, RunnerConfig{}).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() with no workers succeeded")
	}
}
