package database

import (
	"context"
	"testing"
	"time"
)

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	runs := NewRunRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := runs.StartRun(ctx, "cold", "2024-01-01", "2024-01-30", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := runs.RecordMetrics(ctx, id, map[string]int64{"records_processed": 4, "records_created": 2}, now); err != nil {
		t.Fatal(err)
	}
	if err := runs.FinishRun(ctx, id, RunStatusSucceeded, "", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	run, err := runs.GetRun(ctx, id)
	if err != nil || run == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", run.Status)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected finished_at to be set, got %v", run.FinishedAt)
	}
	if run.Metrics["records_processed"] != 4 || run.Metrics["records_created"] != 2 {
		t.Errorf("Expected metrics to round-trip, got %v", run.Metrics)
	}

	failedID, _ := runs.StartRun(ctx, "cold", "2024-01-31", "2024-03-01", now)
	runs.FinishRun(ctx, failedID, RunStatusFailed, "boom", now)

	end, err := runs.LastWindowEnd(ctx, "cold")
	if err != nil {
		t.Fatal(err)
	}
	if end != "2024-01-30" {
		t.Errorf("Expected last succeeded window end 2024-01-30, got '%s'", end)
	}

	list, _ := runs.ListRuns(ctx, 10)
	if len(list) != 2 || list[0].ID != failedID || list[0].ErrorMessage != "boom" {
		t.Errorf("Expected newest run first with its error, got %+v", list)
	}
}

func TestUpsertRuleByName(t *testing.T) {
	db := openTestDB(t)
	rules := NewRuleRepository(db)
	ctx := context.Background()
	now := time.Now()

	id, err := rules.UpsertRule(ctx, Rule{Name: "cloud", Kind: "json", Definition: `{"terms":[]}`, IsActive: true}, now)
	if err != nil {
		t.Fatal(err)
	}
	again, err := rules.UpsertRule(ctx, Rule{Name: "cloud", Kind: "sql", Definition: "SELECT 1", IsActive: true}, now)
	if err != nil {
		t.Fatal(err)
	}
	if id != again {
		t.Errorf("Expected same id on upsert, got %d and %d", id, again)
	}

	rule, _ := rules.GetRule(ctx, id)
	if rule.Kind != "sql" || rule.Definition != "SELECT 1" {
		t.Errorf("Expected rule to be updated, got %+v", rule)
	}
}

func TestReplaceAlertsAndDeactivate(t *testing.T) {
	db := openTestDB(t)
	rules := NewRuleRepository(db)
	ctx := context.Background()
	now := time.Now()

	keep, _ := rules.UpsertRule(ctx, Rule{Name: "keep", Kind: "json", Definition: "{}", IsActive: true}, now)
	rules.UpsertRule(ctx, Rule{Name: "drop", Kind: "json", Definition: "{}", IsActive: true}, now)

	rules.ReplaceAlerts(ctx, keep, []Alert{{DeliveryMethod: "cli", Target: "stdout"}, {DeliveryMethod: "webhook", Target: "https://example.com"}}, now)
	rules.ReplaceAlerts(ctx, keep, []Alert{{DeliveryMethod: "email", Target: "a@example.com"}}, now)

	alerts, _ := rules.ListAlerts(ctx, keep)
	if len(alerts) != 1 || alerts[0].DeliveryMethod != "email" {
		t.Errorf("Expected alerts to be replaced, got %+v", alerts)
	}

	changed, err := rules.DeactivateRulesExcept(ctx, []string{"keep"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 rule deactivated, got %d", changed)
	}

	active, _ := rules.ListActiveRules(ctx)
	if len(active) != 1 || active[0].Name != "keep" {
		t.Errorf("Expected only 'keep' active, got %+v", active)
	}
}

func TestRecordDelivery(t *testing.T) {
	db := openTestDB(t)
	rules := NewRuleRepository(db)
	ctx := context.Background()
	now := time.Now()

	ruleID, _ := rules.UpsertRule(ctx, Rule{Name: "r", Kind: "json", Definition: "{}", IsActive: true}, now)
	rules.ReplaceAlerts(ctx, ruleID, []Alert{{DeliveryMethod: "webhook", Target: "https://example.com"}}, now)
	alerts, _ := rules.ListAlerts(ctx, ruleID)

	err := rules.RecordDelivery(ctx, Delivery{
		RuleID: ruleID, AlertID: &alerts[0].ID, DeliveryMethod: "webhook",
		MatchCount: 3, Status: DeliveryStatusFailed, ErrorMessage: "503", AttemptedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	deliveries, _ := rules.ListDeliveries(ctx, ruleID, 10)
	if len(deliveries) != 1 || deliveries[0].Status != DeliveryStatusFailed || deliveries[0].MatchCount != 3 {
		t.Errorf("Expected failed delivery to be recorded, got %+v", deliveries)
	}
}

func TestSaveMatchesIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	opportunities := NewOpportunityRepository(db)
	rules := NewRuleRepository(db)
	matches := NewMatchRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	saved, _ := opportunities.SaveRecord(ctx, sampleRecord("d1"), now)
	ruleID, _ := rules.UpsertRule(ctx, Rule{Name: "r", Kind: "sql", Definition: "SELECT 1", IsActive: true}, now)

	candidate := MatchCandidate{OpportunityID: saved.OpportunityID, Payload: map[string]any{"score": 1, "reason": "title"}}
	fresh, err := matches.SaveMatches(ctx, ruleID, []MatchCandidate{candidate}, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 {
		t.Fatalf("Expected 1 new match, got %v", fresh)
	}

	later := now.Add(time.Hour)
	fresh, err = matches.SaveMatches(ctx, ruleID, []MatchCandidate{{OpportunityID: saved.OpportunityID, Payload: map[string]any{"score": 2}}}, later)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected no new matches on repeat, got %v", fresh)
	}

	if got := countRows(t, db, "rule_matches"); got != 1 {
		t.Errorf("Expected a single match row, got %d", got)
	}

	list, _ := matches.ListMatches(ctx, ruleID, 10)
	if len(list) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(list))
	}
	m := list[0]
	if !m.MatchedAt.Equal(later) || !m.FirstMatchedAt.Equal(now) {
		t.Errorf("Expected matched_at refreshed and first_matched_at kept, got %+v", m)
	}
	if m.Payload["score"] != float64(2) || m.Payload["reason"] != "title" {
		t.Errorf("Expected merged payload, got %v", m.Payload)
	}
}

func TestSaveMatchesWithoutPayloadStoresNull(t *testing.T) {
	db := openTestDB(t)
	opportunities := NewOpportunityRepository(db)
	rules := NewRuleRepository(db)
	matches := NewMatchRepository(db)
	ctx := context.Background()
	now := time.Now()

	saved, _ := opportunities.SaveRecord(ctx, sampleRecord("d1"), now)
	ruleID, _ := rules.UpsertRule(ctx, Rule{Name: "r", Kind: "sql", Definition: "SELECT 1", IsActive: true}, now)

	matches.SaveMatches(ctx, ruleID, []MatchCandidate{{OpportunityID: saved.OpportunityID}}, now)
	matches.SaveMatches(ctx, ruleID, []MatchCandidate{{OpportunityID: saved.OpportunityID}}, now)

	rows, _ := db.QueryMaps(ctx, "SELECT payload FROM rule_matches")
	if len(rows) != 1 || rows[0]["payload"] != nil {
		t.Errorf("Expected one row with NULL payload, got %v", rows)
	}
}
