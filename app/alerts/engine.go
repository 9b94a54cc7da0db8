package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/samwatch/app/database"
)

const maxDeliveryError = 1000

// Notifier delivers one notification to one destination.
type Notifier interface {
	Deliver(ctx context.Context, dest Destination, n Notification) error
}

var _ Notifier = (*Dispatcher)(nil)

// Engine evaluates active rules and notifies destinations of new matches.
type Engine struct {
	querier       Querier
	rules         database.RuleStore
	matches       database.MatchStore
	opportunities database.OpportunityStore
	notifier      Notifier
	smtp          SMTPDefaults
	now           func() time.Time
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithSMTPDefaults(d SMTPDefaults) EngineOption {
	return func(e *Engine) { e.smtp = d }
}

func NewEngine(querier Querier, rules database.RuleStore, matches database.MatchStore,
	opportunities database.OpportunityStore, notifier Notifier, opts ...EngineOption) *Engine {
	e := &Engine{
		querier:       querier,
		rules:         rules,
		matches:       matches,
		opportunities: opportunities,
		notifier:      notifier,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRules runs one pass over every active rule. A failing rule or
// destination is logged and never stops the others. Only loading the rule
// list can fail the pass.
func (e *Engine) EvaluateRules(ctx context.Context) (Summary, error) {
	var summary Summary

	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load rules: %w", err)
	}

	slog.Debug("Evaluating rules", "count", len(rules))

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		newIDs, err := e.evaluateRule(ctx, rule)
		if errors.Is(err, ErrUnknownKind) {
			slog.Warn("Skipping rule with unknown kind", "rule", rule.Name, "kind", rule.Kind)
			summary.RulesSkipped++
			continue
		}
		if err != nil {
			slog.Error("Rule evaluation failed", "rule", rule.Name, "error", err)
			summary.RulesFailed++
			continue
		}

		summary.RulesEvaluated++
		summary.NewMatches += len(newIDs)
		if len(newIDs) == 0 {
			continue
		}

		delivered, failed := e.notify(ctx, rule, newIDs)
		summary.Deliveries += delivered
		summary.FailedDeliveries += failed
	}

	slog.Info("Rule evaluation completed", "evaluated", summary.RulesEvaluated, "failed", summary.RulesFailed,
		"skipped", summary.RulesSkipped, "new_matches", summary.NewMatches, "deliveries", summary.Deliveries)

	return summary, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule database.Rule) ([]int64, error) {
	candidates, err := Evaluate(ctx, e.querier, rule)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	newIDs, err := e.matches.SaveMatches(ctx, rule.ID, candidates, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to save matches: %w", err)
	}

	slog.Debug("Rule evaluated", "rule", rule.Name, "matched", len(candidates), "new", len(newIDs))
	return newIDs, nil
}

func (e *Engine) notify(ctx context.Context, rule database.Rule, newIDs []int64) (delivered, failed int) {
	notification, err := e.buildNotification(ctx, rule, newIDs)
	if err != nil {
		slog.Error("Failed to build notification", "rule", rule.Name, "error", err)
		return 0, 0
	}

	alerts, err := e.rules.ListAlerts(ctx, rule.ID)
	if err != nil {
		slog.Error("Failed to load rule destinations", "rule", rule.Name, "error", err)
		return 0, 0
	}
	if len(alerts) == 0 {
		slog.Debug("Rule has no destinations", "rule", rule.Name, "new_matches", len(newIDs))
		return 0, 0
	}

	for _, alert := range alerts {
		delivery := database.Delivery{
			RuleID:         rule.ID,
			AlertID:        &alert.ID,
			DeliveryMethod: alert.DeliveryMethod,
			MatchCount:     len(notification.Matches),
		}

		dest, err := ParseDestination(alert, e.smtp)
		switch {
		case err != nil:
			slog.Warn("Skipping destination", "rule", rule.Name, "method", alert.DeliveryMethod, "error", err)
			delivery.Status = database.DeliveryStatusSkipped
			delivery.ErrorMessage = err.Error()

		default:
			if err := e.notifier.Deliver(ctx, dest, notification); err != nil {
				slog.Error("Delivery failed", "rule", rule.Name, "method", dest.Method(), "error", err)
				delivery.Status = database.DeliveryStatusFailed
				delivery.ErrorMessage = err.Error()
				failed++
			} else {
				slog.Info("Delivery completed", "rule", rule.Name, "method", dest.Method(), "matches", len(notification.Matches))
				delivery.Status = database.DeliveryStatusDelivered
				delivered++
			}
		}

		delivery.ErrorMessage = truncate(delivery.ErrorMessage, maxDeliveryError)
		delivery.AttemptedAt = e.now()
		if err := e.rules.RecordDelivery(context.WithoutCancel(ctx), delivery); err != nil {
			slog.Error("Failed to record delivery", "rule", rule.Name, "method", alert.DeliveryMethod, "error", err)
		}
	}
	return delivered, failed
}

func (e *Engine) buildNotification(ctx context.Context, rule database.Rule, newIDs []int64) (Notification, error) {
	opportunities, err := e.opportunities.GetByIDs(ctx, newIDs)
	if err != nil {
		return Notification{}, err
	}

	// New matches carry the latest first_matched_at, so they lead the list.
	payloads := make(map[int64]map[string]any)
	if views, err := e.matches.ListMatches(ctx, rule.ID, len(newIDs)); err == nil {
		for _, v := range views {
			payloads[v.OpportunityID] = v.Payload
		}
	}

	n := Notification{Rule: rule.Name, Matches: make([]Entry, 0, len(newIDs))}
	for _, id := range newIDs {
		o, ok := opportunities[id]
		if !ok {
			continue
		}
		n.Matches = append(n.Matches, Entry{
			OpportunityID: id,
			NoticeID:      o.NoticeID,
			Title:         o.Title,
			Agency:        o.Agency,
			PostedAt:      o.PostedAt,
			URL:           ViewURL(o.NoticeID),
			Payload:       payloads[id],
		})
	}
	return n, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
