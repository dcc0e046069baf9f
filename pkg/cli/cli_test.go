package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/maestro-orchestra/pkg/config"
	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/history"
)

const (
	passingFlow = "appId: com.example\nname: Passing\n---\n- launchApp\n- tapOn: Mock Element\n"
	failingFlow = "appId: com.example\nname: Failing\n---\n- assertVisible: Nowhere\n"
)

// setupCLI isolates settings and history in temp directories and keeps
// element lookups from waiting. It returns the history database path.
func setupCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	config.ResetHome()
	t.Setenv("MAESTRO_ORCHESTRA_HOME", home)
	t.Cleanup(config.ResetHome)

	dbPath := filepath.Join(home, "history.db")
	t.Setenv("MAESTRO_HISTORY_DB", dbPath)
	t.Setenv("MAESTRO_LOOKUP_TIMEOUT", "0s")
	t.Setenv("MAESTRO_SETTLE_TIMEOUT", "0s")
	return dbPath
}

func writeFlow(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := NewApp(&buf).Run(append([]string{"maestro-orchestra", "--no-ansi"}, args...))
	return buf.String(), err
}

func exitCode(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func TestResolveOutputDir_Default(t *testing.T) {
	dir, err := resolveOutputDir("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(dir, "reports"+string(filepath.Separator)) {
		t.Errorf("expected dir to start with reports/, got %s", dir)
	}
	if filepath.Dir(dir) != "reports" {
		t.Errorf("expected reports/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	dir, err := resolveOutputDir("./my-reports", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "my-reports" {
		t.Errorf("expected my-reports, got %s", dir)
	}
}

func TestResolveOutputDir_FlattenWithoutOutput(t *testing.T) {
	if _, err := resolveOutputDir("", true); err == nil {
		t.Error("expected error when flatten is used without output")
	}
}

func TestParseEnvVars(t *testing.T) {
	vars, err := parseEnvVars([]string{"USER=test", "URL=https://x.io/?a=b", "EMPTY="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := env.Vars{
		{Name: "USER", Value: "test"},
		{Name: "URL", Value: "https://x.io/?a=b"},
		{Name: "EMPTY", Value: ""},
	}
	if diff := cmp.Diff(want, vars); diff != "" {
		t.Errorf("parseEnvVars() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEnvVars_InvalidFormat(t *testing.T) {
	for _, in := range []string{"NOEQUALS", "=value"} {
		if _, err := parseEnvVars([]string{in}); err == nil {
			t.Errorf("parseEnvVars(%q) succeeded", in)
		}
	}
}

func TestParseDevices(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"emulator-5554", []string{"emulator-5554"}},
		{"a, b,,c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseDevices(tt.in)); diff != "" {
			t.Errorf("parseDevices(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestCreateWorkers(t *testing.T) {
	tests := []struct {
		name string
		cfg  RunConfig
		want []string
	}{
		{"default device", RunConfig{Driver: driverMock}, []string{"mock-device"}},
		{"parallel without devices", RunConfig{Parallel: 3}, []string{"mock-1", "mock-2", "mock-3"}},
		{"explicit devices", RunConfig{Devices: []string{"a", "b"}}, []string{"a", "b"}},
		{"parallel caps devices", RunConfig{Devices: []string{"a", "b", "c"}, Parallel: 2}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workers, err := createWorkers(&tt.cfg)
			if err != nil {
				t.Fatalf("createWorkers() error = %v", err)
			}
			var ids []string
			for i, w := range workers {
				if w.ID != i || w.Driver == nil {
					t.Errorf("worker %d = %+v", i, w)
				}
				ids = append(ids, w.DeviceID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("device IDs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCreateWorkers_UnsupportedDriver(t *testing.T) {
	_, err := createWorkers(&RunConfig{Driver: "appium"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("createWorkers() error = %v", err)
	}
}

func TestCreateWorkers_MissingScreens(t *testing.T) {
	_, err := createWorkers(&RunConfig{ScreensFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Error("expected error for a missing screens file")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{999 * time.Millisecond, "999ms"},
		{1500 * time.Millisecond, "1.5s"},
		{61 * time.Second, "1m 1s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTestCommand_NoArgs(t *testing.T) {
	setupCLI(t)
	if _, err := runApp(t, "test"); err == nil {
		t.Error("expected error without flow arguments")
	}
}

func TestTestCommand_InvalidFlags(t *testing.T) {
	setupCLI(t)
	flowPath := writeFlow(t, t.TempDir(), "login.yaml", passingFlow)

	for _, args := range [][]string{
		{"test", "--flatten", flowPath},
		{"test", "--format", "html", flowPath},
		{"test", "-e", "NOEQUALS", flowPath},
		{"test", "--parallel", "-1", flowPath},
	} {
		if _, err := runApp(t, args...); err == nil {
			t.Errorf("runApp(%v) succeeded", args)
		}
	}
}

func TestTestCommand_Passing(t *testing.T) {
	dbPath := setupCLI(t)
	out := t.TempDir()
	flowPath := writeFlow(t, t.TempDir(), "login.yaml", passingFlow)

	output, err := runApp(t, "test", "--output", out, "--flatten", flowPath)
	if err != nil {
		t.Fatalf("test command error = %v\n%s", err, output)
	}

	for _, want := range []string{"Found 1 test flow(s)", "Passing", "TOTAL", "1/1", "SUCCESS"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "report.json")); err != nil {
		t.Errorf("report.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "maestro-orchestra.log")); err != nil {
		t.Errorf("log file not written: %v", err)
	}

	store, err := history.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Passed != 1 || runs[0].Failed != 0 {
		t.Errorf("history runs = %+v", runs)
	}
}

func TestTestCommand_FailingExitCode(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	writeFlow(t, dir, "a_pass.yaml", passingFlow)
	writeFlow(t, dir, "b_fail.yaml", failingFlow)

	output, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "--format", "junit", dir)
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d (err %v), want 1\n%s", code, err, output)
	}
	if !strings.Contains(output, "1/2") || !strings.Contains(output, "ERROR") {
		t.Errorf("summary missing failure:\n%s", output)
	}
}

func TestTestCommand_JUnitReport(t *testing.T) {
	setupCLI(t)
	out := t.TempDir()
	flowPath := writeFlow(t, t.TempDir(), "login.yaml", passingFlow)

	if output, err := runApp(t, "test", "--output", out, "--flatten", "--format", "junit", flowPath); err != nil {
		t.Fatalf("test command error = %v\n%s", err, output)
	}
	data, err := os.ReadFile(filepath.Join(out, "report.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<testsuites>") || !strings.Contains(string(data), `name="Passing"`) {
		t.Errorf("report.xml = %s", data)
	}
}

func TestTestCommand_StopOnFail(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	writeFlow(t, dir, "a_fail.yaml", failingFlow)
	writeFlow(t, dir, "b_pass.yaml", passingFlow)

	output, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "--format", "noop", "--stop-on-fail", dir)
	if exitCode(err) != 1 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(output, "STOPPED") {
		t.Errorf("expected the second flow to be stopped:\n%s", output)
	}
}

func TestTestCommand_Parallel(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	writeFlow(t, dir, "a.yaml", strings.Replace(passingFlow, "Passing", "First", 1))
	writeFlow(t, dir, "b.yaml", strings.Replace(passingFlow, "Passing", "Second", 1))

	output, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "--parallel", "2", dir)
	if err != nil {
		t.Fatalf("test command error = %v\n%s", err, output)
	}
	for _, want := range []string{"Running on 2 device(s)", "First", "Second", "2/2"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestTestCommand_EnvFlag(t *testing.T) {
	setupCLI(t)
	flowPath := writeFlow(t, t.TempDir(), "env.yaml",
		"appId: com.example\nname: Env\n---\n- assertTrue: ${USER_NAME == 'alice'}\n")

	output, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "-e", "USER_NAME=alice", flowPath)
	if err != nil {
		t.Fatalf("test command error = %v\n%s", err, output)
	}
}

func TestBuildOptions(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxFlowDepth = 7
	settings.RetryMaxAttempts = 2
	t.Setenv("USER_NAME", "shell")
	workspace := &config.Config{Env: env.Vars{{Name: "USER_NAME", Value: "workspace"}, {Name: "REGION", Value: "eu"}}}
	cfg := &RunConfig{Env: env.Vars{{Name: "USER_NAME", Value: "flag"}}}

	opts := buildOptions(cfg, &settings, workspace)

	if opts.MaxFlowDepth != 7 || opts.RetryMaxAttempts != 2 {
		t.Errorf("limits = depth %d, retries %d; want 7, 2", opts.MaxFlowDepth, opts.RetryMaxAttempts)
	}
	base := env.NewMapping(opts.BaseEnv...)
	for name, want := range map[string]string{"USER_NAME": "flag", "REGION": "eu"} {
		if got, _ := base.Get(name); got != want {
			t.Errorf("BaseEnv[%s] = %q, want %q", name, got, want)
		}
	}
}

func TestTestCommand_ValidationFailure(t *testing.T) {
	setupCLI(t)
	flowPath := writeFlow(t, t.TempDir(), "main.yaml",
		"appId: com.example\n---\n- runFlow: missing.yaml\n")

	output, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", flowPath)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(output, "referenced flow not found") {
		t.Errorf("output missing validation error:\n%s", output)
	}
}

func TestTestCommand_ContinuousNeedsSingleFlow(t *testing.T) {
	setupCLI(t)
	dir := t.TempDir()
	writeFlow(t, dir, "a.yaml", passingFlow)
	writeFlow(t, dir, "b.yaml", passingFlow)

	_, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "--continuous", dir)
	if err == nil || !strings.Contains(err.Error(), "--continuous") {
		t.Errorf("err = %v", err)
	}
}

func TestCheckSyntaxCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFlow(t, dir, "good.yaml", passingFlow)
	bad := writeFlow(t, dir, "bad.yaml", "appId: com.example\n---\n- runFlow: nowhere.yaml\n")

	output, err := runApp(t, "check-syntax", good)
	if err != nil {
		t.Fatalf("check-syntax error = %v", err)
	}
	if !strings.Contains(output, "✓") {
		t.Errorf("output = %s", output)
	}

	output, err = runApp(t, "check-syntax", bad)
	if exitCode(err) != 1 {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(output, "referenced flow not found") {
		t.Errorf("output = %s", output)
	}
}

func TestDepsCommand(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "login.yaml", passingFlow)
	writeFlow(t, dir, "helper.js", "output.x = 1\n")
	main := writeFlow(t, dir, "main.yaml",
		"appId: com.example\n---\n- runFlow: login.yaml\n- runScript: helper.js\n")

	output, err := runApp(t, "deps", main)
	if err != nil {
		t.Fatalf("deps error = %v", err)
	}
	for _, want := range []string{"main.yaml", "Total files: 3", "login.yaml", "helper.js"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}

	if _, err := runApp(t, "deps"); err == nil {
		t.Error("expected error without a flow")
	}
}

func TestHistoryCommand(t *testing.T) {
	setupCLI(t)

	output, err := runApp(t, "history")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(output, "No runs recorded.") {
		t.Errorf("output = %s", output)
	}

	flowPath := writeFlow(t, t.TempDir(), "fail.yaml", failingFlow)
	if _, err := runApp(t, "test", "--output", t.TempDir(), "--flatten", "--format", "noop", flowPath); exitCode(err) != 1 {
		t.Fatalf("test err = %v", err)
	}

	output, err = runApp(t, "history")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(output, "ERROR") || !strings.Contains(output, "0/1") {
		t.Errorf("output = %s", output)
	}

	id := strings.Fields(strings.Split(output, "\n")[1])[0]
	output, err = runApp(t, "history", "--run", id)
	if err != nil {
		t.Fatalf("history --run error = %v", err)
	}
	if !strings.Contains(output, "Failing") {
		t.Errorf("output = %s", output)
	}

	if _, err := runApp(t, "history", "--run", "nope"); err == nil {
		t.Error("expected error for an unknown run")
	}
}
