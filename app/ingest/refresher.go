package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/lysyi3m/samwatch/app/samapi"
)

// Refresher re-ingests opportunities that are already known.
type Refresher struct {
	pipeline *Pipeline
}

func NewRefresher(pipeline *Pipeline) *Refresher {
	return &Refresher{pipeline: pipeline}
}

// RefreshOpportunity fetches a single notice and upserts it. It reports false
// when the API returned nothing for the notice.
func (r *Refresher) RefreshOpportunity(ctx context.Context, noticeID string) (Outcome, bool, error) {
	slog.Info("Refreshing opportunity", "notice_id", noticeID)

	page, err := r.pipeline.source.SearchOpportunities(ctx, samapi.SearchParams{
		Limit: 1,
		Extra: url.Values{"noticeid": {noticeID}},
	})
	if err != nil {
		return Outcome{}, false, fmt.Errorf("failed to look up notice %s: %w", noticeID, err)
	}
	if len(page.Records) == 0 {
		slog.Warn("No data returned for notice", "notice_id", noticeID)
		return Outcome{}, false, nil
	}

	outcome, err := r.pipeline.UpsertRecord(ctx, page.Records[0])
	if err != nil {
		return outcome, true, fmt.Errorf("failed to refresh notice %s: %w", noticeID, err)
	}
	return outcome, true, nil
}

// RefreshRecent re-ingests every notice modified in the last hours as a
// refresh run.
func (r *Refresher) RefreshRecent(ctx context.Context, hours int) (RunResult, error) {
	if hours < 1 {
		return RunResult{}, fmt.Errorf("%w: hours must be positive, got %d", ErrInvalidWindow, hours)
	}

	since := r.pipeline.now().UTC().Add(-time.Duration(hours) * time.Hour)
	return r.pipeline.ingestRange(ctx, KindRefresh, samapi.SearchParams{ModifiedFrom: since})
}
