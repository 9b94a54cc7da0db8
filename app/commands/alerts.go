package commands

import (
	"fmt"
	"log/slog"

	"github.com/lysyi3m/samwatch/app/alerts"
)

type AlertsCommand struct {
	Sync bool `long:"sync" description:"Sync the rule catalog before evaluating"`
}

func (c *AlertsCommand) Execute(args []string) error {
	env, err := openEnvironment(false)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if c.Sync {
		result, err := env.syncRules(ctx, false)
		if err != nil {
			return err
		}
		slog.Info("Synced rules", "synced", result.Synced)
	}

	summary, err := env.engine(nil).EvaluateRules(ctx)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func printSummary(s alerts.Summary) {
	fmt.Fprintf(stdout, "Evaluated %d rules (%d failed, %d skipped): %d new matches, %d deliveries (%d failed)\n",
		s.RulesEvaluated, s.RulesFailed, s.RulesSkipped, s.NewMatches, s.Deliveries, s.FailedDeliveries)
}
