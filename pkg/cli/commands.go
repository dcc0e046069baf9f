package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/maestro-orchestra/pkg/config"
	"github.com/devicelab-dev/maestro-orchestra/pkg/deps"
	"github.com/devicelab-dev/maestro-orchestra/pkg/history"
	"github.com/devicelab-dev/maestro-orchestra/pkg/validator"
)

var checkSyntaxCommand = &cli.Command{
	Name:      "check-syntax",
	Usage:     "Parse flows and their sub-flows without running them",
	ArgsUsage: "<flow-file-or-folder>...",
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("at least one flow file or folder is required")
		}
		out := c.App.Writer

		var workspace *config.Config
		if path := c.String("config"); path != "" {
			ws, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config %s: %w", path, err)
			}
			workspace = ws
		}

		result := validator.New(workspace, nil, nil).Validate(c.Args().Slice()...)
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
		if !result.IsValid() {
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  ✗ %s\n", e)
			}
			return cli.Exit(fmt.Sprintf("%d error(s) found", len(result.Errors)), 1)
		}
		for _, f := range result.Files() {
			fmt.Fprintf(out, "  ✓ %s\n", f)
		}
		return nil
	},
}

var depsCommand = &cli.Command{
	Name:      "deps",
	Usage:     "List the files a flow depends on",
	ArgsUsage: "<flow-file>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one flow file is required")
		}
		summary, err := deps.Summarize(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Fprint(c.App.Writer, summary.String())
		return nil
	},
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Show recorded test runs",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Number of runs to show",
			Value: 20,
		},
		&cli.StringFlag{
			Name:  "run",
			Usage: "Show the flows of one run",
		},
	},
	Action: func(c *cli.Context) error {
		settings, err := config.LoadSettings(c.String("settings"))
		if err != nil {
			return err
		}
		if settings.HistoryDB == "" {
			return fmt.Errorf("run history is disabled (%s is empty)", config.KeyHistoryDB)
		}

		store, err := history.Open(settings.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		if id := c.String("run"); id != "" {
			return printRunFlows(c, store, id)
		}
		return printRuns(c, store, c.Int("limit"))
	},
}

func printRuns(c *cli.Context, store *history.Store, limit int) error {
	runs, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.App.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tFLOWS\tDURATION\tDEVICE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.ID, r.StartTime.Format("2006-01-02 15:04:05"), r.Status,
			r.Passed, r.Passed+r.Failed, formatDuration(r.Duration), r.Device)
	}
	return tw.Flush()
}

func printRunFlows(c *cli.Context, store *history.Store, id string) error {
	flows, err := store.Flows(id)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return fmt.Errorf("no run with id %s", id)
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFLOW\tSTATUS\tDURATION\tFAILURE")
	for _, f := range flows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			f.Seq+1, f.Name, f.Status, formatDuration(f.Duration), strings.ReplaceAll(f.Failure, "\n", " "))
	}
	return tw.Flush()
}
