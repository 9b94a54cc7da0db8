package commands

import (
	"fmt"

	"github.com/lysyi3m/samwatch/app/cfg"
	"github.com/lysyi3m/samwatch/app/ingest"
	"github.com/lysyi3m/samwatch/app/samapi"
)

type BackfillCommand struct {
	WindowDays int  `long:"window-days" description:"Days per cold sweep window (default: configured backfill days)"`
	Run        bool `long:"run" description:"Execute each planned window as a cold sweep"`

	Args struct {
		Start string `positional-arg-name:"start" description:"Start date YYYY-MM-DD"`
		End   string `positional-arg-name:"end" description:"End date YYYY-MM-DD"`
	} `positional-args:"yes" required:"yes"`
}

func (c *BackfillCommand) Execute(args []string) error {
	config := cfg.Get()
	setupLogging(config.Debug)

	windowDays := c.WindowDays
	if windowDays == 0 {
		windowDays = config.BackfillDays
	}
	planner, err := ingest.NewBackfillPlanner(windowDays)
	if err != nil {
		return err
	}

	start, err := parseDate(c.Args.Start)
	if err != nil {
		return err
	}
	end, err := parseDate(c.Args.End)
	if err != nil {
		return err
	}

	windows, err := planner.Plan(start, end)
	if err != nil {
		return err
	}

	if !c.Run {
		for _, w := range windows {
			fmt.Fprintf(stdout, "%s -> %s\n", w.Start.Format(samapi.DateLayout), w.End.Format(samapi.DateLayout))
		}
		return nil
	}

	env, err := openEnvironment(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	pipeline := env.pipeline()
	for i, w := range windows {
		result, err := pipeline.RunCold(ctx, w.Start, w.End)
		if err != nil {
			return fmt.Errorf("window %d/%d (%s) failed: %w", i+1, len(windows), w, err)
		}
		printRun(result)
	}
	return nil
}
