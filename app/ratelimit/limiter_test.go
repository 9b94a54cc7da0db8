package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the fake clock instead of waiting.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func newTestLimiter(hourly, daily int) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := New(hourly, daily, WithClock(clock.Now), WithSleep(clock.Sleep))
	return l, clock
}

func TestAcquireNeverExceedsHourlyLimit(t *testing.T) {
	l, _ := newTestLimiter(5, 0)
	ctx := context.Background()

	granted := 0
	for i := 0; i < 20; i++ {
		if l.Acquire(ctx, 1, false, 0) {
			granted++
		}
	}

	if granted != 5 {
		t.Errorf("Expected 5 successful acquisitions, got %d", granted)
	}
}

func TestAcquireRespectsDailyLimit(t *testing.T) {
	l, clock := newTestLimiter(10, 12)
	ctx := context.Background()

	granted := 0
	for i := 0; i < 10; i++ {
		if l.Acquire(ctx, 1, false, 0) {
			granted++
		}
	}
	clock.Advance(time.Hour)
	for i := 0; i < 10; i++ {
		if l.Acquire(ctx, 1, false, 0) {
			granted++
		}
	}

	if granted != 12 {
		t.Errorf("Expected daily cap of 12 acquisitions, got %d", granted)
	}

	hourly, daily := l.Snapshot()
	if daily == nil || daily.Remaining != 0 {
		t.Errorf("Expected daily budget to be exhausted, got %+v", daily)
	}
	if hourly.Remaining != 8 {
		t.Errorf("Expected hourly remaining 8, got %d", hourly.Remaining)
	}
}

func TestAcquireIsAllOrNothing(t *testing.T) {
	l, _ := newTestLimiter(10, 3)
	ctx := context.Background()

	if l.Acquire(ctx, 4, false, 0) {
		t.Fatal("Expected acquisition beyond the daily budget to fail")
	}

	hourly, daily := l.Snapshot()
	if hourly.Remaining != 10 {
		t.Errorf("Expected hourly budget untouched, got %d", hourly.Remaining)
	}
	if daily.Remaining != 3 {
		t.Errorf("Expected daily budget untouched, got %d", daily.Remaining)
	}
}

func TestHourlyRefillAfterWindow(t *testing.T) {
	l, clock := newTestLimiter(2, 0)
	ctx := context.Background()

	l.Acquire(ctx, 2, false, 0)
	if l.Acquire(ctx, 1, false, 0) {
		t.Fatal("Expected budget to be exhausted")
	}

	clock.Advance(59 * time.Minute)
	if l.Acquire(ctx, 1, false, 0) {
		t.Fatal("Expected no refill before the window elapses")
	}

	clock.Advance(time.Minute)
	if !l.Acquire(ctx, 1, false, 0) {
		t.Error("Expected refill once the hourly window elapsed")
	}
}

func TestBudgetsRefillIndependently(t *testing.T) {
	l, clock := newTestLimiter(5, 100)
	ctx := context.Background()

	l.Acquire(ctx, 5, false, 0)
	clock.Advance(time.Hour)

	if !l.Acquire(ctx, 1, false, 0) {
		t.Fatal("Expected hourly refill")
	}

	_, daily := l.Snapshot()
	if daily.Remaining != 94 {
		t.Errorf("Expected daily budget to keep counting down, got %d", daily.Remaining)
	}
}

func TestBlockingAcquireWaitsForRefill(t *testing.T) {
	l, clock := newTestLimiter(1, 0)
	ctx := context.Background()

	l.Acquire(ctx, 1, false, 0)
	start := clock.Now()

	if !l.Acquire(ctx, 1, true, 2*time.Hour) {
		t.Fatal("Expected blocking acquire to succeed after refill")
	}
	if waited := clock.Now().Sub(start); waited < time.Hour {
		t.Errorf("Expected to wait at least an hour, waited %v", waited)
	}
}

func TestBlockingAcquireTimesOut(t *testing.T) {
	l, clock := newTestLimiter(1, 0)
	ctx := context.Background()

	l.Acquire(ctx, 1, false, 0)
	start := clock.Now()

	if l.Acquire(ctx, 1, true, 10*time.Second) {
		t.Fatal("Expected blocking acquire to time out")
	}
	if waited := clock.Now().Sub(start); waited > 11*time.Second {
		t.Errorf("Expected to give up near the deadline, waited %v", waited)
	}
}

func TestBlockingAcquireHonoursCancellation(t *testing.T) {
	l, _ := newTestLimiter(1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	l.Acquire(ctx, 1, false, 0)
	cancel()

	if l.Acquire(ctx, 1, true, 0) {
		t.Error("Expected cancelled acquire to fail")
	}
}

func TestConcurrentAcquire(t *testing.T) {
	l := New(50, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire(ctx, 1, false, 0) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 50 {
		t.Errorf("Expected exactly 50 grants, got %d", granted)
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	l, clock := newTestLimiter(1000, 5000)

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "900")
	h.Set("X-RateLimit-Remaining", "2")
	h.Set("X-RateLimit-Remaining-Day", "bogus")
	h.Set("X-RateLimit-Limit-Day", "4000")
	l.UpdateFromHeaders(h)

	hourly, daily := l.Snapshot()
	if hourly.Limit != 900 || hourly.Remaining != 2 {
		t.Errorf("Expected hourly 2/900, got %d/%d", hourly.Remaining, hourly.Limit)
	}
	if daily.Limit != 4000 {
		t.Errorf("Expected daily limit 4000, got %d", daily.Limit)
	}
	if daily.Remaining != 5000 {
		t.Errorf("Expected malformed daily remaining to be ignored, got %d", daily.Remaining)
	}

	reset := clock.Now().Add(10 * time.Minute)
	h = http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", itoa(reset.Unix()))
	l.UpdateFromHeaders(h)

	ctx := context.Background()
	if l.Acquire(ctx, 1, false, 0) {
		t.Fatal("Expected server-reported exhaustion to block acquisition")
	}
	clock.Advance(10 * time.Minute)
	if !l.Acquire(ctx, 1, false, 0) {
		t.Error("Expected refill at the server-reported reset time")
	}

	for _, raw := range []string{"1e300", "+Inf", "-5"} {
		h = http.Header{}
		h.Set("X-RateLimit-Reset", raw)
		l.UpdateFromHeaders(h)
		if hourly, _ := l.Snapshot(); !hourly.ResetAt.IsZero() {
			t.Errorf("Expected reset %q to be ignored, got %v", raw, hourly.ResetAt)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"", 0},
		{"soon", 0},
		{"-3", 0},
		{"NaN", 0},
		{"1e300", MaxRetryAfter},
		{"+Inf", MaxRetryAfter},
		{"604800", MaxRetryAfter},
	}

	for _, tt := range tests {
		if got := ParseRetryAfter(tt.value); got != tt.expected {
			t.Errorf("ParseRetryAfter(%q): expected %v, got %v", tt.value, tt.expected, got)
		}
	}
}

func TestRecordRetryAfterSleeps(t *testing.T) {
	l, clock := newTestLimiter(10, 0)
	start := clock.Now()

	l.RecordRetryAfter(context.Background(), "7")
	if waited := clock.Now().Sub(start); waited != 7*time.Second {
		t.Errorf("Expected 7s cooldown, got %v", waited)
	}

	l.RecordRetryAfter(context.Background(), "garbage")
	if waited := clock.Now().Sub(start); waited != 7*time.Second {
		t.Errorf("Expected malformed value to add no delay, got %v", waited)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
