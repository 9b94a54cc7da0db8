package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ RuleStore = (*RuleRepository)(nil)

type RuleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumnsSQL = `id, name, COALESCE(description, ''), kind, definition, is_active, created_at, updated_at`

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var createdAt, updatedAt string
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Kind, &rule.Definition,
		&rule.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rule.CreatedAt, _ = ParseTime(createdAt)
	rule.UpdatedAt, _ = ParseTime(updatedAt)
	return &rule, nil
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) ListActiveRules(ctx context.Context) ([]Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumnsSQL+` FROM rules WHERE is_active = 1 ORDER BY id`)
}

func (r *RuleRepository) ListRules(ctx context.Context) ([]Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumnsSQL+` FROM rules ORDER BY id`)
}

// GetRule returns nil when the rule does not exist.
func (r *RuleRepository) GetRule(ctx context.Context, ruleID int64) (*Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumnsSQL+` FROM rules WHERE id = ?`, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// UpsertRule inserts a rule or updates the one with the same name.
func (r *RuleRepository) UpsertRule(ctx context.Context, rule Rule, now time.Time) (int64, error) {
	ts := FormatTime(now)

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO rules (name, description, kind, definition, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			kind = excluded.kind,
			definition = excluded.definition,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`,
		rule.Name, nullString(rule.Description), rule.Kind, rule.Definition, rule.IsActive, ts, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert rule %s: %w", rule.Name, err)
	}
	return id, nil
}

// ReplaceAlerts swaps the destinations of a rule in one transaction.
func (r *RuleRepository) ReplaceAlerts(ctx context.Context, ruleID int64, alerts []Alert, now time.Time) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE rule_id = ?`, ruleID); err != nil {
			return fmt.Errorf("failed to delete alerts: %w", err)
		}
		for _, a := range alerts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO alerts (rule_id, delivery_method, target, created_at)
				VALUES (?, ?, ?, ?)`,
				ruleID, a.DeliveryMethod, a.Target, FormatTime(now))
			if err != nil {
				return fmt.Errorf("failed to insert alert: %w", err)
			}
		}
		return nil
	})
}

func (r *RuleRepository) ListAlerts(ctx context.Context, ruleID int64) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, delivery_method, target FROM alerts
		WHERE rule_id = ? ORDER BY id`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.RuleID, &a.DeliveryMethod, &a.Target); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// DeactivateRulesExcept marks every active rule whose name is not listed as
// inactive and returns how many were changed.
func (r *RuleRepository) DeactivateRulesExcept(ctx context.Context, names []string, now time.Time) (int64, error) {
	query := `UPDATE rules SET is_active = 0, updated_at = ? WHERE is_active = 1`
	args := []any{FormatTime(now)}
	if len(names) > 0 {
		query += ` AND name NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(names)), ",") + `)`
		for _, name := range names {
			args = append(args, name)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rules: %w", err)
	}
	return res.RowsAffected()
}

func (r *RuleRepository) RecordDelivery(ctx context.Context, d Delivery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (rule_id, alert_id, delivery_method, match_count, status, error_message, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.RuleID, d.AlertID, d.DeliveryMethod, d.MatchCount, d.Status, nullString(d.ErrorMessage), FormatTime(d.AttemptedAt))
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (r *RuleRepository) ListDeliveries(ctx context.Context, ruleID int64, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, alert_id, delivery_method, match_count, status, COALESCE(error_message, ''), attempted_at
		FROM deliveries WHERE rule_id = ? ORDER BY id DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var alertID sql.NullInt64
		var attemptedAt string
		if err := rows.Scan(&d.ID, &d.RuleID, &alertID, &d.DeliveryMethod, &d.MatchCount, &d.Status, &d.ErrorMessage, &attemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		if alertID.Valid {
			d.AlertID = &alertID.Int64
		}
		d.AttemptedAt, _ = ParseTime(attemptedAt)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
