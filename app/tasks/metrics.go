package tasks

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxErrorLabel = 200

// Values of the last_status gauge.
const (
	statusFailed  = -1
	statusRunning = 0
	statusSuccess = 1
)

// PrometheusRecorder exports scheduler job metrics on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runsStarted   *prometheus.CounterVec
	runsSucceeded *prometheus.CounterVec
	runsFailed    *prometheus.CounterVec
	lastStarted   *prometheus.GaugeVec
	lastFinished  *prometheus.GaugeVec
	lastDuration  *prometheus.GaugeVec
	lastStatus    *prometheus.GaugeVec
	lastError     *prometheus.GaugeVec
}

func NewPrometheusRecorder() *PrometheusRecorder {
	jobLabel := []string{"job"}
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samwatch_scheduler_runs_started_total",
			Help: "Number of times a job started execution.",
		}, jobLabel),
		runsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samwatch_scheduler_runs_succeeded_total",
			Help: "Number of times a job completed successfully.",
		}, jobLabel),
		runsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samwatch_scheduler_runs_failed_total",
			Help: "Number of times a job failed.",
		}, jobLabel),
		lastStarted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samwatch_scheduler_last_started_timestamp",
			Help: "Unix timestamp of the most recent start of a job.",
		}, jobLabel),
		lastFinished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samwatch_scheduler_last_finished_timestamp",
			Help: "Unix timestamp of the most recent completion of a job.",
		}, jobLabel),
		lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samwatch_scheduler_last_duration_seconds",
			Help: "Duration of the most recent job execution in seconds.",
		}, jobLabel),
		lastStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samwatch_scheduler_last_status",
			Help: "Status of the last run (1=success, 0=running, -1=failure).",
		}, jobLabel),
		lastError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "samwatch_scheduler_last_error",
			Help: "Last error message recorded for a job; absent when the last run succeeded.",
		}, []string{"job", "message"}),
	}

	r.registry.MustRegister(r.runsStarted, r.runsSucceeded, r.runsFailed,
		r.lastStarted, r.lastFinished, r.lastDuration, r.lastStatus, r.lastError)
	return r
}

// Registry is served on /metrics.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RegisterJob(name string) {
	r.runsStarted.WithLabelValues(name)
	r.runsSucceeded.WithLabelValues(name)
	r.runsFailed.WithLabelValues(name)
	r.lastStarted.WithLabelValues(name).Set(math.NaN())
	r.lastFinished.WithLabelValues(name).Set(math.NaN())
	r.lastDuration.WithLabelValues(name).Set(math.NaN())
	r.lastStatus.WithLabelValues(name).Set(statusRunning)
}

func (r *PrometheusRecorder) RecordJobStart(name string, at time.Time) {
	r.runsStarted.WithLabelValues(name).Inc()
	r.lastStarted.WithLabelValues(name).Set(unixSeconds(at))
	r.lastStatus.WithLabelValues(name).Set(statusRunning)
}

func (r *PrometheusRecorder) RecordJobSuccess(name string, at time.Time, duration time.Duration) {
	r.runsSucceeded.WithLabelValues(name).Inc()
	r.finish(name, at, duration, statusSuccess)
	r.lastError.DeletePartialMatch(prometheus.Labels{"job": name})
}

func (r *PrometheusRecorder) RecordJobFailure(name string, at time.Time, duration time.Duration, err error) {
	r.runsFailed.WithLabelValues(name).Inc()
	r.finish(name, at, duration, statusFailed)

	message := ""
	if err != nil {
		message = err.Error()
		if runes := []rune(message); len(runes) > maxErrorLabel {
			message = string(runes[:maxErrorLabel])
		}
	}
	r.lastError.DeletePartialMatch(prometheus.Labels{"job": name})
	r.lastError.WithLabelValues(name, message).Set(1)
}

func (r *PrometheusRecorder) finish(name string, at time.Time, duration time.Duration, status float64) {
	r.lastFinished.WithLabelValues(name).Set(unixSeconds(at))
	r.lastDuration.WithLabelValues(name).Set(duration.Seconds())
	r.lastStatus.WithLabelValues(name).Set(status)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
