package api

import (
	"context"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/database"
	"github.com/lysyi3m/samwatch/app/feed"
	"github.com/lysyi3m/samwatch/app/tasks"
)

type GeneratorInterface interface {
	Run(rule database.Rule, matches []database.MatchView) (string, error)
}

type StatsInterface interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

type EvaluatorInterface interface {
	EvaluateRules(ctx context.Context) (alerts.Summary, error)
}

type JobMetricsInterface interface {
	MetricsSnapshot() map[string]tasks.JobMetrics
}

var (
	_ GeneratorInterface  = (*feed.Generator)(nil)
	_ StatsInterface      = (*database.DB)(nil)
	_ EvaluatorInterface  = (*alerts.Engine)(nil)
	_ JobMetricsInterface = (*tasks.Scheduler)(nil)
)

type Handler struct {
	stats         StatsInterface
	opportunities database.OpportunityStore
	runs          database.RunStore
	rules         database.RuleStore
	matches       database.MatchStore
	generator     GeneratorInterface
	evaluator     EvaluatorInterface
	jobs          JobMetricsInterface
	version       string
}
