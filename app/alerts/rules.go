package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/lysyi3m/samwatch/app/database"
)

// Querier runs read queries for rule evaluation.
type Querier interface {
	QueryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// Evaluate runs a rule and returns one candidate per matched opportunity.
func Evaluate(ctx context.Context, q Querier, rule database.Rule) ([]database.MatchCandidate, error) {
	switch strings.ToLower(rule.Kind) {
	case KindSQL:
		return evaluateSQL(ctx, q, rule.Definition)
	case KindJSON:
		return evaluateJSON(ctx, q, rule.Definition)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, rule.Kind)
	}
}

func evaluateSQL(ctx context.Context, q Querier, query string) ([]database.MatchCandidate, error) {
	rows, err := q.QueryMaps(ctx, query)
	if err != nil {
		return nil, err
	}
	return candidatesFromRows(rows), nil
}

func evaluateJSON(ctx context.Context, q Querier, definition string) ([]database.MatchCandidate, error) {
	query, args, err := BuildJSONQuery(definition)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryMaps(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return candidatesFromRows(rows), nil
}

// BuildJSONQuery turns a json rule definition into a select over opportunities.
// Terms are ANDed; terms without a field or value are ignored.
func BuildJSONQuery(definition string) (string, []any, error) {
	var rule JSONRule
	if strings.TrimSpace(definition) != "" {
		if err := json.Unmarshal([]byte(definition), &rule); err != nil {
			return "", nil, fmt.Errorf("failed to parse json rule: %w", err)
		}
	}

	builder := sq.Select("id AS opportunity_id").From("opportunities").OrderBy("id")
	for _, term := range rule.Terms {
		field := strings.TrimSpace(term.Field)
		if field == "" || term.Value == nil {
			continue
		}
		if !database.OpportunityColumns[field] {
			return "", nil, fmt.Errorf("unknown field %q in json rule", field)
		}
		// SQLite LIKE is case-insensitive for ASCII.
		builder = builder.Where(sq.Like{field: "%" + termValue(term.Value) + "%"})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build json rule query: %w", err)
	}
	return query, args, nil
}

func termValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func candidatesFromRows(rows []map[string]any) []database.MatchCandidate {
	candidates := make([]database.MatchCandidate, 0, len(rows))
	for _, row := range rows {
		id, ok := opportunityID(row["opportunity_id"])
		if !ok {
			continue
		}

		var payload map[string]any
		for k, v := range row {
			if k == "opportunity_id" {
				continue
			}
			if payload == nil {
				payload = make(map[string]any, len(row)-1)
			}
			payload[k] = v
		}
		candidates = append(candidates, database.MatchCandidate{OpportunityID: id, Payload: payload})
	}
	return candidates
}

func opportunityID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
