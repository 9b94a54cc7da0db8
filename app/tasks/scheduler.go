package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const DefaultTick = time.Second

// Scheduler runs jobs sequentially from a single loop. Every tick it runs the
// jobs that are due; a job's next run is the tick time plus its interval.
type Scheduler struct {
	jobs     []Job
	metrics  map[string]*JobMetrics
	recorder MetricsRecorder
	tick     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets how often the loop checks for due jobs.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

func WithRecorder(r MetricsRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler with no jobs. Times are UTC unless a
// clock is supplied.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		metrics: make(map[string]*JobMetrics),
		tick:    DefaultTick,
		now:     func() time.Time { return time.Now().UTC() },
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a job. Names must be unique.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Action == nil {
		return fmt.Errorf("job requires a name and an action")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s requires a positive interval", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job %s is already scheduled", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	s.metrics[job.Name] = &JobMetrics{}
	if s.recorder != nil {
		s.recorder.RegisterJob(job.Name)
	}

	slog.Info("Job scheduled", "job", job.Name, "interval", job.Interval.String())
	return nil
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Scheduler stopped", "error", err)
		}
	}()
}

// Stop asks the loop to exit at the next tick boundary and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Run blocks until Stop is called (returning nil) or ctx ends (returning its
// error). A running job is never interrupted by Stop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Jobs without an entry are due immediately.
	next := make(map[string]time.Time)
	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.runDue(ctx, next)

		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, next map[string]time.Time) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	// Next runs are anchored to this tick, not to job completion.

	now := s.now()
	for _, job := range jobs {
		if due, ok := next[job.Name]; ok && now.Before(due) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, job)
		next[job.Name] = now.Add(job.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	started := s.now()
	s.mu.Lock()
	s.metrics[job.Name].start(started)
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.RecordJobStart(job.Name, started)
	}

	slog.Debug("Job started", "job", job.Name)

	err := runJob(ctx, job)

	finished := s.now()
	duration := finished.Sub(started)

	s.mu.Lock()
	s.metrics[job.Name].finish(finished, duration, err)
	s.mu.Unlock()

	if err != nil {
		slog.Error("Job failed", "job", job.Name, "duration", duration.String(), "error", err)
		if s.recorder != nil {
			s.recorder.RecordJobFailure(job.Name, finished, duration, err)
		}
		return
	}

	slog.Info("Job completed", "job", job.Name, "duration", duration.String())
	if s.recorder != nil {
		s.recorder.RecordJobSuccess(job.Name, finished, duration)
	}
}

// runJob converts a panic into an error so the loop keeps running.
func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Job panic stack", "job", job.Name, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Action(ctx)
}

// MetricsSnapshot returns a copy of every job's metrics.
func (s *Scheduler) MetricsSnapshot() map[string]JobMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]JobMetrics, len(s.metrics))
	for name, m := range s.metrics {
		snapshot[name] = *m
	}
	return snapshot
}
