package commands

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/lysyi3m/samwatch/app/database"
)

type StatusCommand struct {
	Runs int `long:"runs" default:"5" description:"Number of recent runs to show"`
}

func (c *StatusCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	counts, err := env.db.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Opportunities: %d\n", counts["opportunities"])

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTABLE\tROWS")
	for _, table := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(tw, "%s\t%d\n", table, counts[table])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	runs, err := env.runs.ListRuns(ctx, c.Runs)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "\nNo runs recorded yet")
		return nil
	}

	tw = tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tKIND\tSTATUS\tSTARTED\tFINISHED\tWINDOW\tERROR")
	for _, run := range runs {
		window := "-"
		if run.WindowStart != "" {
			window = run.WindowStart + ".." + run.WindowEnd
		}
		finished := "-"
		if run.FinishedAt != nil {
			finished = database.FormatTime(*run.FinishedAt)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Kind, run.Status, database.FormatTime(run.StartedAt), finished, window, run.ErrorMessage)
	}
	return tw.Flush()
}
