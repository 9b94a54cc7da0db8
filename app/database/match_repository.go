package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

var _ MatchStore = (*MatchRepository)(nil)

type MatchRepository struct {
	db *DB
}

func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// SaveMatches persists the candidates of one rule and returns the opportunity
// ids that were matched for the first time. Existing pairs get a fresh
// matched_at and their payload merged, new keys winning.
func (r *MatchRepository) SaveMatches(ctx context.Context, ruleID int64, candidates []MatchCandidate, now time.Time) ([]int64, error) {
	ts := FormatTime(now)
	var fresh []int64

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		fresh = fresh[:0]
		for _, c := range candidates {
			payload, err := encodePayload(c.Payload)
			if err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO rule_matches (rule_id, opportunity_id, first_matched_at, matched_at, payload)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(rule_id, opportunity_id) DO NOTHING`,
				ruleID, c.OpportunityID, ts, ts, payload)
			if err != nil {
				return fmt.Errorf("failed to insert match: %w", err)
			}
			inserted, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read insert result: %w", err)
			}
			if inserted == 1 {
				fresh = append(fresh, c.OpportunityID)
				continue
			}

			if err := refreshMatch(ctx, tx, ruleID, c, ts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return fresh, nil
}

func refreshMatch(ctx context.Context, tx *sql.Tx, ruleID int64, c MatchCandidate, ts string) error {
	var stored sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT payload FROM rule_matches WHERE rule_id = ? AND opportunity_id = ?`,
		ruleID, c.OpportunityID).Scan(&stored)
	if err != nil {
		return fmt.Errorf("failed to load match: %w", err)
	}

	merged, err := mergePayload(stored, c.Payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rule_matches SET matched_at = ?, payload = ?
		WHERE rule_id = ? AND opportunity_id = ?`,
		ts, merged, ruleID, c.OpportunityID)
	if err != nil {
		return fmt.Errorf("failed to refresh match: %w", err)
	}
	return nil
}

func encodePayload(payload map[string]any) (sql.NullString, error) {
	if len(payload) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func mergePayload(stored sql.NullString, incoming map[string]any) (sql.NullString, error) {
	if len(incoming) == 0 {
		return stored, nil
	}

	merged := make(map[string]any)
	if stored.Valid && stored.String != "" {
		if err := json.Unmarshal([]byte(stored.String), &merged); err != nil {
			merged = make(map[string]any)
		}
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return encodePayload(merged)
}

// ListMatches returns the most recently matched opportunities of a rule.
func (r *MatchRepository) ListMatches(ctx context.Context, ruleID int64, limit int) ([]MatchView, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.rule_id, m.opportunity_id, o.notice_id, o.title, COALESCE(o.agency, ''),
			COALESCE(o.posted_at, ''), m.first_matched_at, m.matched_at, m.payload
		FROM rule_matches m
		JOIN opportunities o ON o.id = m.opportunity_id
		WHERE m.rule_id = ?
		ORDER BY m.first_matched_at DESC, m.id DESC
		LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []MatchView
	for rows.Next() {
		var m MatchView
		var firstMatched, matched string
		var payload sql.NullString
		if err := rows.Scan(&m.RuleID, &m.OpportunityID, &m.NoticeID, &m.Title, &m.Agency,
			&m.PostedAt, &firstMatched, &matched, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.FirstMatchedAt, _ = ParseTime(firstMatched)
		m.MatchedAt, _ = ParseTime(matched)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &m.Payload); err != nil {
				m.Payload = nil
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
