package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/maestro-orchestra/pkg/config"
	"github.com/devicelab-dev/maestro-orchestra/pkg/core"
	"github.com/devicelab-dev/maestro-orchestra/pkg/env"
	"github.com/devicelab-dev/maestro-orchestra/pkg/executor"
	"github.com/devicelab-dev/maestro-orchestra/pkg/flow"
	"github.com/devicelab-dev/maestro-orchestra/pkg/history"
	"github.com/devicelab-dev/maestro-orchestra/pkg/logger"
	"github.com/devicelab-dev/maestro-orchestra/pkg/progress"
	"github.com/devicelab-dev/maestro-orchestra/pkg/report"
	"github.com/devicelab-dev/maestro-orchestra/pkg/validator"
	"github.com/devicelab-dev/maestro-orchestra/pkg/watch"
)

// Report formats.
const (
	formatJSON  = "json"
	formatJUnit = "junit"
	formatNoop  = "noop"
)

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run Maestro flows on a device",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files or folders of flows.

Examples:
  maestro-orchestra test login.yaml
  maestro-orchestra test flows/ --include-tags smoke
  maestro-orchestra test flows/ -e USER=test -e PASS=secret
  maestro-orchestra test flows/ --parallel 3
  maestro-orchestra test login.yaml --continuous`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment variables (KEY=VALUE), repeatable",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only run flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Skip flows with these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Report directory (default: ./reports/<timestamp>)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Write reports directly into --output without a timestamp folder",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Report format: json, junit or noop",
			Value: formatJSON,
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Number of devices to run flows on concurrently",
		},
		&cli.BoolFlag{
			Name:    "continuous",
			Aliases: []string{"c"},
			Usage:   "Rerun the flow whenever it or one of its dependencies changes",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show a live progress view instead of command output",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Stop the run after the first flow that does not pass",
		},
	},
	Action: runTest,
}

// RunConfig holds everything a test run needs.
type RunConfig struct {
	FlowPaths    []string
	ConfigPath   string
	SettingsPath string
	Env          env.Vars
	IncludeTags  []string
	ExcludeTags  []string

	OutputDir  string
	Format     string
	Parallel   int
	Continuous bool
	TUI        bool
	StopOnFail bool

	Platform    string
	Devices     []string
	Driver      string
	ScreensFile string

	Verbose bool
	NoANSI  bool
}

func runTest(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	vars, err := parseEnvVars(c.StringSlice("env"))
	if err != nil {
		return err
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}

	format := strings.ToLower(c.String("format"))
	switch format {
	case formatJSON, formatJUnit, formatNoop:
	default:
		return fmt.Errorf("unknown report format %q (available: %s, %s, %s)", format, formatJSON, formatJUnit, formatNoop)
	}

	if c.Int("parallel") < 0 {
		return fmt.Errorf("--parallel must not be negative")
	}

	cfg := &RunConfig{
		FlowPaths:    c.Args().Slice(),
		ConfigPath:   c.String("config"),
		SettingsPath: c.String("settings"),
		Env:          vars,
		IncludeTags:  c.StringSlice("include-tags"),
		ExcludeTags:  c.StringSlice("exclude-tags"),
		OutputDir:    outputDir,
		Format:       format,
		Parallel:     c.Int("parallel"),
		Continuous:   c.Bool("continuous"),
		TUI:          c.Bool("tui"),
		StopOnFail:   c.Bool("stop-on-fail"),
		Platform:     c.String("platform"),
		Devices:      parseDevices(c.String("device")),
		Driver:       c.String("driver"),
		ScreensFile:  c.String("screens"),
		Verbose:      c.Bool("verbose"),
		NoANSI:       c.Bool("no-ansi"),
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	suite, err := executeTest(ctx, cfg, c.App.Writer)
	if err != nil {
		return err
	}
	if suite.Status == core.FlowError || suite.Status == core.FlowStopped {
		return cli.Exit("", 1)
	}
	return nil
}

// parseEnvVars parses KEY=VALUE pairs, keeping their order.
func parseEnvVars(envs []string) (env.Vars, error) {
	var vars env.Vars
	for _, e := range envs {
		name, value, ok := strings.Cut(e, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid env %q: expected KEY=VALUE", e)
		}
		vars = append(vars, env.Var{Name: name, Value: value})
	}
	return vars, nil
}

// resolveOutputDir returns the report directory. Unless flatten is set,
// every run gets its own timestamped folder.
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// testRun is one invocation of the test command. In continuous mode it
// executes several suites.
type testRun struct {
	cfg        *RunConfig
	out        io.Writer
	console    *console
	settings   *config.Settings
	opts       executor.Options
	workers    []executor.DeviceWorker
	stopOnFail bool
}

func executeTest(ctx context.Context, cfg *RunConfig, out io.Writer) (*report.SuiteResult, error) {
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	logPath := filepath.Join(cfg.OutputDir, "maestro-orchestra.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(out, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	level := settings.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logger.Info("=== Test execution started ===")
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Driver: %s", cfg.Driver)

	workspace, err := loadWorkspace(cfg)
	if err != nil {
		return nil, err
	}
	if workspace != nil {
		if cfg.Platform == "" {
			cfg.Platform = workspace.Platform
		}
		if len(cfg.Devices) == 0 {
			cfg.Devices = parseDevices(workspace.Device)
		}
	}

	plain := cfg.NoANSI || os.Getenv("NO_COLOR") != "" || !isTerminal(out)
	header := newConsole(out, plain, false, 0)
	fmt.Fprintf(out, "\n%s\n", header.paint(boldStyle, "Setup"))

	result := validator.New(workspace, cfg.IncludeTags, cfg.ExcludeTags).Validate(cfg.FlowPaths...)
	for _, w := range result.Warnings {
		logger.Warn("%s", w)
	}
	if !result.IsValid() {
		fmt.Fprintf(out, "  %s\n", header.paint(redStyle, "✗ Validation failed"))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "    %s\n", e)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}

	flows := result.Flows
	if workspace != nil {
		flows = workspace.Order(flows)
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("no test flows found")
	}
	if cfg.Continuous && len(flows) != 1 {
		return nil, fmt.Errorf("--continuous requires a single flow, found %d", len(flows))
	}
	fmt.Fprintf(out, "  %s Found %d test flow(s)\n", header.paint(greenStyle, "✓"), len(flows))

	workers, err := createWorkers(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, w := range workers {
			if w.Cleanup != nil {
				w.Cleanup()
			}
		}
	}()
	fmt.Fprintf(out, "  %s Running on %d device(s) with the %s driver\n",
		header.paint(greenStyle, "✓"), len(workers), driverMock)
	fmt.Fprintf(out, "  %s Report directory: %s\n", header.paint(greenStyle, "✓"), cfg.OutputDir)

	run := &testRun{
		cfg:        cfg,
		out:        out,
		console:    newConsole(out, plain, len(workers) > 1, len(flows)),
		settings:   settings,
		opts:       buildOptions(cfg, settings, workspace),
		workers:    workers,
		stopOnFail: cfg.StopOnFail || (workspace != nil && workspace.StopOnFail()),
	}

	fmt.Fprintf(out, "\n%s\n", header.paint(boldStyle, "Execution"))
	suite := run.run(ctx, flows)
	run.finish(suite)

	if cfg.Continuous {
		return run.watch(ctx, flows[0].SourcePath, suite)
	}
	return suite, nil
}

// loadWorkspace returns the workspace config: the --config file, or the
// config.yaml of a single folder argument. Nil means no workspace.
func loadWorkspace(cfg *RunConfig) (*config.Config, error) {
	if cfg.ConfigPath != "" {
		ws, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", cfg.ConfigPath, err)
		}
		return ws, nil
	}
	if len(cfg.FlowPaths) == 1 {
		if info, err := os.Stat(cfg.FlowPaths[0]); err == nil && info.IsDir() {
			ws, err := config.LoadFromDir(cfg.FlowPaths[0])
			if err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", cfg.FlowPaths[0], err)
			}
			return ws, nil
		}
	}
	return nil, nil
}

// buildOptions merges settings and variables into executor options.
// Variables apply in order: shell, workspace config, then -e flags.
func buildOptions(cfg *RunConfig, settings *config.Settings, workspace *config.Config) executor.Options {
	base := env.NewMapping(env.FromEnviron(os.Environ())...)
	if workspace != nil {
		base.Apply(workspace.Env)
	}
	base.Apply(cfg.Env)

	opts := executor.DefaultOptions()
	opts.RepeatMaxIterations = settings.RepeatMaxIterations
	opts.RetryMaxAttempts = settings.RetryMaxAttempts
	opts.MaxFlowDepth = settings.MaxFlowDepth
	opts.LookupTimeout = settings.LookupTimeout
	opts.SettleTimeout = settings.SettleTimeout
	opts.OutputDir = cfg.OutputDir
	opts.BaseEnv = base.Vars()
	opts.Flows = executor.NewFlowCache()
	return opts
}

// run executes flows on the workers. With --tui the progress view owns the
// terminal while the runner works in the background.
func (r *testRun) run(ctx context.Context, flows []*flow.Flow) *report.SuiteResult {
	rc := executor.RunnerConfig{
		Options:    r.opts,
		StopOnFail: r.stopOnFail,
	}
	if !r.cfg.TUI {
		rc.Options.Listener = r.console.listener()
		r.console.reset(len(flows))
		return r.execute(ctx, rc, flows)
	}

	live := report.NewRunningFlows(flows)
	rc.Progress = live

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan *report.SuiteResult, 1)
	go func() {
		done <- r.execute(ctx, rc, flows)
	}()
	if err := progress.Run(live, cancel, r.out); err != nil {
		logger.Warn("progress view failed: %v", err)
	}
	return <-done
}

func (r *testRun) execute(ctx context.Context, rc executor.RunnerConfig, flows []*flow.Flow) *report.SuiteResult {
	if len(r.workers) > 1 {
		suite, err := executor.NewParallelRunner(r.workers, rc).Run(ctx, flows)
		if err == nil {
			return suite
		}
		logger.Warn("parallel run failed, falling back to one device: %v", err)
	}
	return executor.NewRunner(r.workers[0].Driver, rc).Run(ctx, flows)
}

// finish prints the summary, writes the report and records the run.
func (r *testRun) finish(suite *report.SuiteResult) {
	r.console.printSummary(suite)

	path, err := writeReport(r.cfg, suite)
	switch {
	case err != nil:
		fmt.Fprintf(r.out, "  %s failed to write report: %v\n", r.console.paint(redStyle, "✗"), err)
		logger.Error("failed to write report: %v", err)
	case path != "":
		fmt.Fprintf(r.out, "  Report: %s\n", path)
	}

	if r.settings.HistoryDB == "" {
		return
	}
	if id, err := recordHistory(r.settings.HistoryDB, suite); err != nil {
		logger.Warn("failed to record run history: %v", err)
	} else {
		logger.Info("recorded run %s in %s", id, r.settings.HistoryDB)
	}
}

// watch reruns the flow at path whenever it or a dependency changes, until
// ctx is cancelled. It returns the result of the last run.
func (r *testRun) watch(ctx context.Context, path string, last *report.SuiteResult) (*report.SuiteResult, error) {
	w, err := watch.New(path)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	fmt.Fprintf(r.out, "\n  Watching %d file(s) for changes. Press Ctrl+C to stop.\n", len(w.Files()))
	err = w.Run(ctx, func(changed []string) {
		for _, p := range changed {
			fmt.Fprintf(r.out, "\n  Changed: %s\n", p)
		}
		r.opts.Flows.Invalidate(changed...)

		f, err := flow.ParseFile(path)
		if err != nil {
			fmt.Fprintf(r.out, "  %s %v\n", r.console.paint(redStyle, "✗"), err)
			return
		}
		last = r.run(ctx, []*flow.Flow{f})
		r.finish(last)
	})
	return last, err
}

func writeReport(cfg *RunConfig, suite *report.SuiteResult) (string, error) {
	switch cfg.Format {
	case formatJSON:
		path := filepath.Join(cfg.OutputDir, "report.json")
		return path, report.WriteJSON(path, suite)
	case formatJUnit:
		path := filepath.Join(cfg.OutputDir, "report.xml")
		f, err := os.Create(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		return path, report.WriteJUnit(f, suite.Name, suite)
	}
	return "", nil
}

func recordHistory(path string, suite *report.SuiteResult) (string, error) {
	store, err := history.Open(path)
	if err != nil {
		return "", err
	}
	defer store.Close()
	return store.Record(suite)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
