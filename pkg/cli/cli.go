// Package cli provides the command-line interface for maestro-orchestra.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform reported by the driver (ios, android, web)",
		EnvVars: []string{"MAESTRO_PLATFORM"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Device ID to run on (can be comma-separated)",
		EnvVars: []string{"MAESTRO_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Driver to use (mock)",
		Value:   driverMock,
		EnvVars: []string{"MAESTRO_DRIVER"},
	},
	&cli.StringFlag{
		Name:    "screens",
		Usage:   "Screen script for the mock driver (YAML)",
		EnvVars: []string{"MAESTRO_MOCK_SCREENS"},
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to workspace config.yaml",
	},
	&cli.StringFlag{
		Name:    "settings",
		Usage:   "Path to a runner settings file (default: <home>/settings.yaml)",
		EnvVars: []string{"MAESTRO_SETTINGS"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"MAESTRO_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application writing to out. Exit codes are
// returned as cli.ExitCoder errors rather than terminating the process.
func NewApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "maestro-orchestra",
		Usage:   "Maestro flow runner",
		Version: Version,
		Description: `maestro-orchestra executes Maestro flow files against a device driver
and reports per-command, per-flow and per-suite results.

Examples:
  maestro-orchestra test flow.yaml
  maestro-orchestra test flows/ -e USER=test
  maestro-orchestra deps flow.yaml`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			testCommand,
			checkSyntaxCommand,
			depsCommand,
			historyCommand,
		},
		Writer:         out,
		ErrWriter:      out,
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// Execute runs the CLI and exits with the command's exit code.
func Execute() {
	err := NewApp(os.Stdout).Run(os.Args)
	if err == nil {
		return
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
