package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lysyi3m/samwatch/app/database"
	"github.com/lysyi3m/samwatch/app/samapi"
)

const (
	KindHot     = "hot"
	KindWarm    = "warm"
	KindCold    = "cold"
	KindRefresh = "refresh"

	// MaxWindowDays bounds a single cold sweep.
	MaxWindowDays = 365

	maxErrorMessage = 1000
)

var (
	ErrInvalidWindow   = errors.New("invalid sweep window")
	errMissingNoticeID = errors.New("record has no noticeId")

	// ErrStore marks a failed write to the store. It fails the whole sweep.
	ErrStore = errors.New("failed to save record")
)

// Metrics are the counters of one sweep. They are persisted as run metrics.
type Metrics struct {
	Processed             int64
	Created               int64
	Updated               int64
	Failed                int64
	AttachmentsDownloaded int64
	AttachmentFailures    int64
}

func (m Metrics) Map() map[string]int64 {
	return map[string]int64{
		"records_processed":      m.Processed,
		"records_created":        m.Created,
		"records_updated":        m.Updated,
		"records_failed":         m.Failed,
		"attachments_downloaded": m.AttachmentsDownloaded,
		"attachment_failures":    m.AttachmentFailures,
	}
}

func (m *Metrics) add(o Outcome) {
	if o.Created {
		m.Created++
	}
	if o.Updated {
		m.Updated++
	}
	m.AttachmentsDownloaded += o.AttachmentsDownloaded
	m.AttachmentFailures += o.AttachmentFailures
}

// Outcome summarizes the upsert of a single record.
type Outcome struct {
	OpportunityID         int64
	Created               bool
	Updated               bool
	AttachmentsDownloaded int64
	AttachmentFailures    int64
}

type RunResult struct {
	RunID       int64
	Kind        string
	WindowStart string
	WindowEnd   string
	Metrics     Metrics
}

type Pipeline struct {
	source        Source
	opportunities database.OpportunityStore
	runs          database.RunStore
	filesDir      string
	now           func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(source Source, opportunities database.OpportunityStore, runs database.RunStore, filesDir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:        source,
		opportunities: opportunities,
		runs:          runs,
		filesDir:      filesDir,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) today() time.Time {
	return truncateDay(p.now())
}

// RunHot sweeps notices posted today.
func (p *Pipeline) RunHot(ctx context.Context) (RunResult, error) {
	today := p.today()
	return p.ingestRange(ctx, KindHot, samapi.SearchParams{PostedFrom: today, PostedTo: today})
}

// RunWarm rescans the last days to pick up amendments and cancellations.
func (p *Pipeline) RunWarm(ctx context.Context, days int) (RunResult, error) {
	if days < 1 || days > MaxWindowDays {
		return RunResult{}, fmt.Errorf("%w: warm sweep must cover 1 to %d days, got %d", ErrInvalidWindow, MaxWindowDays, days)
	}
	end := p.today()
	return p.ingestRange(ctx, KindWarm, samapi.SearchParams{PostedFrom: end.AddDate(0, 0, -days), PostedTo: end})
}

// RunCold sweeps an explicit historical window. Windows longer than a year
// are rejected before anything is requested.
func (p *Pipeline) RunCold(ctx context.Context, start, end time.Time) (RunResult, error) {
	start, end = truncateDay(start), truncateDay(end)
	if end.Before(start) {
		return RunResult{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow,
			end.Format(samapi.DateLayout), start.Format(samapi.DateLayout))
	}
	if days := int(end.Sub(start).Hours() / 24); days > MaxWindowDays {
		return RunResult{}, fmt.Errorf("%w: cold sweep window cannot exceed %d days, got %d", ErrInvalidWindow, MaxWindowDays, days)
	}
	return p.ingestRange(ctx, KindCold, samapi.SearchParams{PostedFrom: start, PostedTo: end})
}

// RunNextCold sweeps the window following the last succeeded cold run. It is
// a no-op once the backfill has caught up with today.
func (p *Pipeline) RunNextCold(ctx context.Context, planner *BackfillPlanner) (RunResult, error) {
	lastEnd, err := p.runs.LastWindowEnd(ctx, KindCold)
	if err != nil {
		return RunResult{}, err
	}

	window, ok := planner.NextWindow(lastEnd, p.now())
	if !ok {
		slog.Debug("Cold sweep caught up", "last_window_end", lastEnd)
		return RunResult{}, nil
	}
	return p.RunCold(ctx, window.Start, window.End)
}

func (p *Pipeline) ingestRange(ctx context.Context, kind string, params samapi.SearchParams) (RunResult, error) {
	result := RunResult{
		Kind:        kind,
		WindowStart: formatDate(params.PostedFrom, params.ModifiedFrom),
		WindowEnd:   formatDate(params.PostedTo),
	}

	runID, err := p.runs.StartRun(ctx, kind, result.WindowStart, result.WindowEnd, p.now())
	if err != nil {
		return result, fmt.Errorf("failed to start %s run: %w", kind, err)
	}
	result.RunID = runID

	slog.Info("Sweep started", "kind", kind, "run_id", runID, "from", result.WindowStart, "to", result.WindowEnd)

	var sweepErr error
	for record, err := range p.source.IterSearch(ctx, params) {
		if err != nil {
			sweepErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			sweepErr = err
			break
		}

		result.Metrics.Processed++
		outcome, err := p.UpsertRecord(ctx, record)
		if errors.Is(err, ErrStore) {
			sweepErr = err
			break
		}
		if err != nil {
			result.Metrics.Failed++
			slog.Warn("Failed to ingest record", "kind", kind, "run_id", runID, "notice_id", record.String("noticeId"), "error", err)
			continue
		}
		result.Metrics.add(outcome)
	}

	return result, p.finishRun(ctx, result, sweepErr)
}

func (p *Pipeline) finishRun(ctx context.Context, result RunResult, sweepErr error) error {
	// Bookkeeping must land even when the sweep was cancelled.
	ctx = context.WithoutCancel(ctx)
	now := p.now()

	if err := p.runs.RecordMetrics(ctx, result.RunID, result.Metrics.Map(), now); err != nil {
		sweepErr = errors.Join(sweepErr, err)
	}

	if sweepErr != nil {
		if err := p.runs.FinishRun(ctx, result.RunID, database.RunStatusFailed, truncate(sweepErr.Error(), maxErrorMessage), now); err != nil {
			slog.Error("Failed to mark run as failed", "run_id", result.RunID, "error", err)
		}
		slog.Error("Sweep failed", "kind", result.Kind, "run_id", result.RunID, "processed", result.Metrics.Processed, "error", sweepErr)
		return fmt.Errorf("%s sweep failed: %w", result.Kind, sweepErr)
	}

	if err := p.runs.FinishRun(ctx, result.RunID, database.RunStatusSucceeded, "", now); err != nil {
		return fmt.Errorf("failed to finish %s run: %w", result.Kind, err)
	}

	m := result.Metrics
	slog.Info("Sweep completed", "kind", result.Kind, "run_id", result.RunID,
		"processed", m.Processed, "created", m.Created, "updated", m.Updated, "failed", m.Failed,
		"attachments_downloaded", m.AttachmentsDownloaded, "attachment_failures", m.AttachmentFailures)
	return nil
}

// UpsertRecord persists one search record. Network work happens first so no
// transaction is held open across it.
func (p *Pipeline) UpsertRecord(ctx context.Context, record samapi.Record) (Outcome, error) {
	var outcome Outcome

	opportunity := opportunityFromRecord(record)
	if opportunity.NoticeID == "" {
		return outcome, errMissingNoticeID
	}

	description := p.description(ctx, record)
	attachments := p.attachments(ctx, opportunity.NoticeID, record, &outcome)

	saved, err := p.opportunities.SaveRecord(ctx, &database.OpportunityRecord{
		Opportunity: opportunity,
		Awards:      awardsFromRecord(record),
		Contacts:    contactsFromRecord(record),
		Description: description,
		Attachments: attachments,
	}, p.now())
	if err != nil {
		return outcome, fmt.Errorf("%w %s: %w", ErrStore, opportunity.NoticeID, err)
	}

	outcome.OpportunityID = saved.OpportunityID
	outcome.Created = saved.Created
	outcome.Updated = saved.Updated

	slog.Debug("Record ingested", "notice_id", opportunity.NoticeID, "created", saved.Created, "updated", saved.Updated)
	return outcome, nil
}

// description returns nil when no description could be obtained so the
// stored one is kept.
func (p *Pipeline) description(ctx context.Context, record samapi.Record) *string {
	if text := NormalizeDescription(inlineDescription(record)); text != "" {
		return &text
	}

	for _, descriptionURL := range descriptionURLs(record) {
		body, err := p.source.FetchDescription(ctx, descriptionURL)
		if err != nil {
			slog.Warn("Failed to fetch description", "notice_id", record.String("noticeId"), "error", err)
			continue
		}
		if text := NormalizeDescription(unwrapDescription(body)); text != "" {
			return &text
		}
	}
	return nil
}

// unwrapDescription extracts the text of a {"description": "..."} envelope.
func unwrapDescription(body string) string {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return body
	}

	var envelope struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil || envelope.Description == "" {
		return body
	}
	return envelope.Description
}

func (p *Pipeline) attachments(ctx context.Context, noticeID string, record samapi.Record, outcome *Outcome) []database.Attachment {
	links := attachmentLinks(record)
	if len(links) == 0 {
		return nil
	}

	dir := filepath.Join(p.filesDir, safeFileName(noticeID))
	used := make(map[string]bool, len(links))
	attachments := make([]database.Attachment, 0, len(links))

	for _, link := range links {
		name := link.FileName
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%d_%s", n, link.FileName)
		}
		used[name] = true

		attachment := database.Attachment{
			URL:      link.URL,
			FileName: name,
			SHA256:   link.SHA256,
			Bytes:    link.Bytes,
		}

		download, err := p.source.DownloadAttachment(ctx, link.URL, filepath.Join(dir, name))
		if err != nil {
			outcome.AttachmentFailures++
			slog.Warn("Failed to download attachment", "notice_id", noticeID, "file", name, "error", err)
			attachments = append(attachments, attachment)
			continue
		}

		outcome.AttachmentsDownloaded++
		size := download.Bytes
		attachment.SHA256 = download.SHA256
		attachment.Bytes = &size
		attachment.LocalPath = p.relativePath(download.Path)
		attachment.Downloaded = true
		attachments = append(attachments, attachment)
	}
	return attachments
}

func (p *Pipeline) relativePath(path string) string {
	rel, err := filepath.Rel(p.filesDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDate(candidates ...time.Time) string {
	for _, t := range candidates {
		if !t.IsZero() {
			return t.Format(samapi.DateLayout)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
