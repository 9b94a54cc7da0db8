package ingest

import (
	"fmt"
	"time"

	"github.com/lysyi3m/samwatch/app/samapi"
)

// Window is an inclusive range of posting dates.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return w.Start.Format(samapi.DateLayout) + ".." + w.End.Format(samapi.DateLayout)
}

// BackfillPlanner splits historical ranges into cold sweep windows.
type BackfillPlanner struct {
	windowDays int
}

func NewBackfillPlanner(windowDays int) (*BackfillPlanner, error) {
	if windowDays < 1 || windowDays > MaxWindowDays {
		return nil, fmt.Errorf("%w: window days must be between 1 and %d, got %d", ErrInvalidWindow, MaxWindowDays, windowDays)
	}
	return &BackfillPlanner{windowDays: windowDays}, nil
}

func (b *BackfillPlanner) WindowDays() int {
	return b.windowDays
}

// Plan covers start..end with consecutive windows of at most windowDays days.
func (b *BackfillPlanner) Plan(start, end time.Time) ([]Window, error) {
	start, end = truncateDay(start), truncateDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: start must not be after end", ErrInvalidWindow)
	}

	var windows []Window
	for current := start; !current.After(end); {
		windowEnd := current.AddDate(0, 0, b.windowDays-1)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, Window{Start: current, End: windowEnd})
		current = windowEnd.AddDate(0, 0, 1)
	}
	return windows, nil
}

// NextWindow returns the window following lastEnd, or the most recent
// windowDays when nothing was swept yet. It reports false once lastEnd has
// reached today.
func (b *BackfillPlanner) NextWindow(lastEnd string, now time.Time) (Window, bool) {
	today := truncateDay(now)

	start := today.AddDate(0, 0, -b.windowDays)
	if lastEnd != "" {
		if last, err := time.Parse(samapi.DateLayout, lastEnd); err == nil {
			start = last.AddDate(0, 0, 1)
		}
	}
	if start.After(today) {
		return Window{}, false
	}

	end := start.AddDate(0, 0, b.windowDays-1)
	if end.After(today) {
		end = today
	}
	return Window{Start: start, End: end}, true
}
