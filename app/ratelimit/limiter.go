package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	HourlyWindow = time.Hour
	DailyWindow  = 24 * time.Hour

	DefaultPollInterval = time.Second

	// MaxRetryAfter caps a server-requested cooldown.
	MaxRetryAfter = DailyWindow

	maxEpochSeconds = float64(math.MaxInt64 / int64(time.Second))
)

// Budget is one token bucket. ResetAt is zero unless the server reported one.
type Budget struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	LastRefill time.Time

	window time.Duration
}

func (b *Budget) refill(now time.Time) {
	if now.Sub(b.LastRefill) >= b.window || (!b.ResetAt.IsZero() && !now.Before(b.ResetAt)) {
		b.Remaining = b.Limit
		b.LastRefill = now
		b.ResetAt = time.Time{}
	}
}

type Limiter struct {
	mu     sync.Mutex
	hourly *Budget
	daily  *Budget

	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	pollInterval time.Duration
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Limiter) { l.pollInterval = d }
}

// New creates a limiter with an hourly budget and, when dailyCap > 0, a daily one.
func New(hourlyCap, dailyCap int, opts ...Option) *Limiter {
	l := &Limiter{
		now:          time.Now,
		sleep:        sleepContext,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}

	start := l.now()
	l.hourly = &Budget{Limit: hourlyCap, Remaining: hourlyCap, LastRefill: start, window: HourlyWindow}
	if dailyCap > 0 {
		l.daily = &Budget{Limit: dailyCap, Remaining: dailyCap, LastRefill: start, window: DailyWindow}
	}
	return l
}

// Acquire takes tokens from every configured budget or from none. With block
// set it polls until the tokens are available, the timeout passes (zero means
// no timeout) or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, tokens int, block bool, timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = l.now().Add(timeout)
	}

	for {
		if l.tryAcquire(tokens) {
			return true
		}
		if !block {
			return false
		}
		if !deadline.IsZero() && !l.now().Before(deadline) {
			return false
		}
		if err := l.sleep(ctx, l.pollInterval); err != nil {
			return false
		}
	}
}

func (l *Limiter) tryAcquire(tokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.hourly.refill(now)
	if l.daily != nil {
		l.daily.refill(now)
	}

	if l.hourly.Remaining < tokens {
		return false
	}
	if l.daily != nil && l.daily.Remaining < tokens {
		return false
	}

	l.hourly.Remaining -= tokens
	if l.daily != nil {
		l.daily.Remaining -= tokens
	}
	return true
}

// UpdateFromHeaders applies server-reported X-RateLimit values. Malformed
// values are ignored.
func (l *Limiter) UpdateFromHeaders(h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	applyHeaders(l.hourly, h, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset")
	if l.daily != nil {
		applyHeaders(l.daily, h, "X-RateLimit-Limit-Day", "X-RateLimit-Remaining-Day", "X-RateLimit-Reset-Day")
	}
}

func applyHeaders(b *Budget, h http.Header, limitKey, remainingKey, resetKey string) {
	if v, ok := headerInt(h, limitKey); ok && v >= 0 {
		b.Limit = v
	}
	if v, ok := headerInt(h, remainingKey); ok && v >= 0 {
		b.Remaining = v
	}
	if raw := strings.TrimSpace(h.Get(resetKey)); raw != "" {
		if epoch, err := strconv.ParseFloat(raw, 64); err == nil && epoch > 0 && epoch < maxEpochSeconds {
			b.ResetAt = time.Unix(0, int64(epoch*float64(time.Second)))
		}
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RecordRetryAfter blocks for the server-requested cooldown given in seconds.
func (l *Limiter) RecordRetryAfter(ctx context.Context, value string) {
	d := ParseRetryAfter(value)
	if d <= 0 {
		return
	}
	_ = l.sleep(ctx, d)
}

// ParseRetryAfter converts a Retry-After value to a delay. Malformed or
// negative values yield zero, oversized ones MaxRetryAfter.
func ParseRetryAfter(value string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || !(secs > 0) {
		return 0
	}
	if secs >= MaxRetryAfter.Seconds() {
		return MaxRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

// Snapshot returns copies of the hourly budget and the daily one (nil if unset).
func (l *Limiter) Snapshot() (Budget, *Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hourly := *l.hourly
	if l.daily == nil {
		return hourly, nil
	}
	daily := *l.daily
	return hourly, &daily
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
