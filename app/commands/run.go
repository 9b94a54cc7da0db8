package commands

import (
	"errors"
	"fmt"

	"github.com/lysyi3m/samwatch/app/ingest"
)

type RunCommand struct {
	Hot       bool   `long:"hot" description:"Run the hot sweep (today's notices)"`
	Warm      bool   `long:"warm" description:"Run the warm sweep (recent notices)"`
	WarmDays  int    `long:"warm-days" description:"Days covered by the warm sweep (default: configured warm days)"`
	ColdStart string `long:"cold-start" value-name:"YYYY-MM-DD" description:"Cold sweep start date"`
	ColdEnd   string `long:"cold-end" value-name:"YYYY-MM-DD" description:"Cold sweep end date"`
	NextCold  bool   `long:"next-cold" description:"Run the next planned backfill window"`
	Alerts    bool   `long:"alerts" description:"Evaluate rules after the sweeps"`
}

func (c *RunCommand) Execute(args []string) error {
	if !c.Hot && !c.Warm && !c.NextCold && c.ColdStart == "" && c.ColdEnd == "" {
		return errors.New("nothing to run: pass --hot, --warm, --cold-start/--cold-end or --next-cold")
	}
	if (c.ColdStart == "") != (c.ColdEnd == "") {
		return errors.New("--cold-start and --cold-end must be given together")
	}

	env, err := openEnvironment(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	pipeline := env.pipeline()

	if c.Hot {
		result, err := pipeline.RunHot(ctx)
		if err != nil {
			return fmt.Errorf("hot sweep failed: %w", err)
		}
		printRun(result)
	}

	if c.Warm {
		days := c.WarmDays
		if days == 0 {
			days = env.cfg.WarmDays
		}
		result, err := pipeline.RunWarm(ctx, days)
		if err != nil {
			return fmt.Errorf("warm sweep failed: %w", err)
		}
		printRun(result)
	}

	if c.ColdStart != "" {
		start, err := parseDate(c.ColdStart)
		if err != nil {
			return err
		}
		end, err := parseDate(c.ColdEnd)
		if err != nil {
			return err
		}
		result, err := pipeline.RunCold(ctx, start, end)
		if err != nil {
			return fmt.Errorf("cold sweep failed: %w", err)
		}
		printRun(result)
	}

	if c.NextCold {
		planner, err := ingest.NewBackfillPlanner(env.cfg.BackfillDays)
		if err != nil {
			return err
		}
		result, err := pipeline.RunNextCold(ctx, planner)
		if err != nil {
			return fmt.Errorf("cold sweep failed: %w", err)
		}
		if result.RunID == 0 {
			fmt.Fprintln(stdout, "Backfill is caught up")
		} else {
			printRun(result)
		}
	}

	if c.Alerts {
		summary, err := env.engine(nil).EvaluateRules(ctx)
		if err != nil {
			return fmt.Errorf("rule evaluation failed: %w", err)
		}
		printSummary(summary)
	}

	return nil
}
