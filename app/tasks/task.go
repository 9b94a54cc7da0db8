package tasks

import (
	"context"
	"time"
)

const (
	JobHotSweep  = "hot_sweep"
	JobWarmSweep = "warm_sweep"
	JobColdSweep = "cold_sweep"
	JobAlerts    = "alerts"
)

// Job is a named action run every Interval. Action errors and panics are
// recorded as failures.
type Job struct {
	Name     string
	Interval time.Duration
	Action   func(ctx context.Context) error
}

// JobMetrics are the runtime counters of one job.
type JobMetrics struct {
	RunsStarted    int64      `json:"runs_started"`
	RunsSucceeded  int64      `json:"runs_succeeded"`
	RunsFailed     int64      `json:"runs_failed"`
	LastStartedAt  *time.Time `json:"last_started_at"`
	LastFinishedAt *time.Time `json:"last_finished_at"`
	LastDuration   float64    `json:"last_duration_seconds"`
	LastError      string     `json:"last_error,omitempty"`
}

func (m *JobMetrics) start(now time.Time) {
	m.RunsStarted++
	m.LastStartedAt = &now
}

func (m *JobMetrics) finish(now time.Time, duration time.Duration, err error) {
	m.LastFinishedAt = &now
	m.LastDuration = duration.Seconds()
	if err != nil {
		m.RunsFailed++
		m.LastError = err.Error()
		return
	}
	m.RunsSucceeded++
	m.LastError = ""
}
