package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/samwatch/app/ingest"
)

func HotSweepJob(sweeper Sweeper, interval time.Duration) Job {
	return Job{
		Name:     JobHotSweep,
		Interval: interval,
		Action: func(ctx context.Context) error {
			result, err := sweeper.RunHot(ctx)
			logSweep(result, err)
			return err
		},
	}
}

func WarmSweepJob(sweeper Sweeper, days int, interval time.Duration) Job {
	return Job{
		Name:     JobWarmSweep,
		Interval: interval,
		Action: func(ctx context.Context) error {
			result, err := sweeper.RunWarm(ctx, days)
			logSweep(result, err)
			return err
		},
	}
}

// ColdSweepJob advances the backfill by one planner window per run.
func ColdSweepJob(sweeper Sweeper, planner *ingest.BackfillPlanner, interval time.Duration) Job {
	return Job{
		Name:     JobColdSweep,
		Interval: interval,
		Action: func(ctx context.Context) error {
			result, err := sweeper.RunNextCold(ctx, planner)
			if result.RunID == 0 && err == nil {
				return nil
			}
			logSweep(result, err)
			return err
		},
	}
}

func AlertsJob(evaluator RuleEvaluator, interval time.Duration) Job {
	return Job{
		Name:     JobAlerts,
		Interval: interval,
		Action: func(ctx context.Context) error {
			_, err := evaluator.EvaluateRules(ctx)
			return err
		},
	}
}

func logSweep(result ingest.RunResult, err error) {
	if err != nil {
		return
	}
	m := result.Metrics
	slog.Info("Sweep finished", "kind", result.Kind, "run_id", result.RunID,
		"window", result.WindowStart+".."+result.WindowEnd, "processed", m.Processed,
		"created", m.Created, "updated", m.Updated, "failed", m.Failed)
}
