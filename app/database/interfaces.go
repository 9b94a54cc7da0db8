package database

import (
	"context"
	"time"
)

type OpportunityStore interface {
	SaveRecord(ctx context.Context, record *OpportunityRecord, now time.Time) (UpsertResult, error)
	GetByNoticeID(ctx context.Context, noticeID string) (*OpportunityDetails, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]Opportunity, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

type RunStore interface {
	StartRun(ctx context.Context, kind, windowStart, windowEnd string, now time.Time) (int64, error)
	FinishRun(ctx context.Context, runID int64, status RunStatus, errorMessage string, now time.Time) error
	RecordMetrics(ctx context.Context, runID int64, metrics map[string]int64, now time.Time) error
	GetRun(ctx context.Context, runID int64) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	LastWindowEnd(ctx context.Context, kind string) (string, error)
}

type RuleStore interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, ruleID int64) (*Rule, error)
	UpsertRule(ctx context.Context, rule Rule, now time.Time) (int64, error)
	ReplaceAlerts(ctx context.Context, ruleID int64, alerts []Alert, now time.Time) error
	ListAlerts(ctx context.Context, ruleID int64) ([]Alert, error)
	DeactivateRulesExcept(ctx context.Context, names []string, now time.Time) (int64, error)
	RecordDelivery(ctx context.Context, delivery Delivery) error
	ListDeliveries(ctx context.Context, ruleID int64, limit int) ([]Delivery, error)
}

type MatchStore interface {
	SaveMatches(ctx context.Context, ruleID int64, candidates []MatchCandidate, now time.Time) ([]int64, error)
	ListMatches(ctx context.Context, ruleID int64, limit int) ([]MatchView, error)
}
