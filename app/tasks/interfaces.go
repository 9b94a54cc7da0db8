package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/ingest"
)

// MetricsRecorder receives job lifecycle events in addition to the
// scheduler's own snapshot.
type MetricsRecorder interface {
	RegisterJob(name string)
	RecordJobStart(name string, at time.Time)
	RecordJobSuccess(name string, at time.Time, duration time.Duration)
	RecordJobFailure(name string, at time.Time, duration time.Duration, err error)
}

// Sweeper is the part of the ingestion pipeline the scheduled sweeps use.
type Sweeper interface {
	RunHot(ctx context.Context) (ingest.RunResult, error)
	RunWarm(ctx context.Context, days int) (ingest.RunResult, error)
	RunNextCold(ctx context.Context, planner *ingest.BackfillPlanner) (ingest.RunResult, error)
}

type RuleEvaluator interface {
	EvaluateRules(ctx context.Context) (alerts.Summary, error)
}

var (
	_ Sweeper         = (*ingest.Pipeline)(nil)
	_ RuleEvaluator   = (*alerts.Engine)(nil)
	_ MetricsRecorder = (*PrometheusRecorder)(nil)
)
