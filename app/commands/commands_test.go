package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/jszwec/csvutil"

	"github.com/lysyi3m/samwatch/app/cfg"
	"github.com/lysyi3m/samwatch/app/database"
	"github.com/lysyi3m/samwatch/app/ingest"
)

type testEnv struct {
	out      *bytes.Buffer
	cfg      *cfg.Cfg
	rulesDir string
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	rulesDir := t.TempDir()
	t.Setenv("SAM_API_KEY", "")
	t.Setenv("SAMWATCH_DATA_DIR", dataDir)
	t.Setenv("SAMWATCH_RULES_DIR", rulesDir)

	config, err := cfg.Parse([]string{})
	if err != nil {
		t.Fatalf("Failed to parse configuration: %v", err)
	}

	out := &bytes.Buffer{}
	previous := stdout
	stdout = out
	t.Cleanup(func() { stdout = previous })

	return &testEnv{out: out, cfg: config, rulesDir: rulesDir}
}

// seed stores one opportunity and returns the open database.
func (e *testEnv) seed(t *testing.T) *database.DB {
	t.Helper()
	if err := e.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	db, err := database.Open(e.cfg.SQLitePath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = database.NewOpportunityRepository(db).SaveRecord(context.Background(), &database.OpportunityRecord{
		Opportunity: database.Opportunity{NoticeID: "N-1", Title: "Satellite ground stations", Agency: "DOE", PostedAt: "2024-03-14", Digest: "d1"},
	}, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func (e *testEnv) writeRule(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.rulesDir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegister(t *testing.T) {
	parser := flags.NewParser(&struct{}{}, flags.None)
	if err := Register(parser); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for _, name := range []string{"serve", "run", "backfill", "query", "status", "refresh", "alerts", "rules", "matches"} {
		if parser.Find(name) == nil {
			t.Errorf("Expected command %s to be registered", name)
		}
	}
	if rules := parser.Find("rules"); rules == nil || rules.Find("sync") == nil || rules.Find("list") == nil {
		t.Error("Expected rules sync and list subcommands")
	}
}

func TestBackfillPlan(t *testing.T) {
	env := setupTest(t)

	cmd := &BackfillCommand{WindowDays: 10}
	cmd.Args.Start = "2024-01-01"
	cmd.Args.End = "2024-01-25"
	if err := cmd.Execute(nil); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	expected := "2024-01-01 -> 2024-01-10\n2024-01-11 -> 2024-01-20\n2024-01-21 -> 2024-01-25\n"
	if env.out.String() != expected {
		t.Errorf("Expected windows:\n%s\ngot:\n%s", expected, env.out.String())
	}
}

func TestBackfillInvalidRange(t *testing.T) {
	setupTest(t)

	cmd := &BackfillCommand{}
	cmd.Args.Start = "2024-02-01"
	cmd.Args.End = "2024-01-01"
	if err := cmd.Execute(nil); !errors.Is(err, ingest.ErrInvalidWindow) {
		t.Errorf("Expected ErrInvalidWindow, got %v", err)
	}

	cmd.Args.Start = "01/02/2024"
	if err := cmd.Execute(nil); err == nil || !strings.Contains(err.Error(), "expected YYYY-MM-DD") {
		t.Errorf("Expected date format error, got %v", err)
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	setupTest(t)

	err := (&RunCommand{Hot: true}).Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "SAM_API_KEY") {
		t.Errorf("Expected API key error, got %v", err)
	}
}

func TestRunValidatesSelection(t *testing.T) {
	setupTest(t)

	if err := (&RunCommand{}).Execute(nil); err == nil || !strings.Contains(err.Error(), "nothing to run") {
		t.Errorf("Expected nothing to run error, got %v", err)
	}
	if err := (&RunCommand{ColdStart: "2024-01-01"}).Execute(nil); err == nil || !strings.Contains(err.Error(), "together") {
		t.Errorf("Expected paired cold dates error, got %v", err)
	}
}

func TestQueryCommand(t *testing.T) {
	env := setupTest(t)
	env.seed(t)

	cmd := &QueryCommand{}
	cmd.Args.SQL = []string{"SELECT notice_id, title FROM opportunities"}
	if err := cmd.Execute(nil); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(env.out.Bytes(), &rows); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", env.out.String(), err)
	}
	if len(rows) != 1 || rows[0]["notice_id"] != "N-1" {
		t.Errorf("Unexpected rows: %v", rows)
	}

	env.out.Reset()
	cmd.Args.SQL = []string{"SELECT * FROM opportunities WHERE 1 = 0"}
	if err := cmd.Execute(nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(env.out.String()) != "[]" {
		t.Errorf("Expected empty JSON array, got %q", env.out.String())
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupTest(t)
	env.seed(t)

	if err := (&StatusCommand{Runs: 5}).Execute(nil); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	output := env.out.String()
	if !strings.HasPrefix(output, "Opportunities: 1\n") {
		t.Errorf("Expected opportunity count first, got %q", output)
	}
	if !strings.Contains(output, "No runs recorded yet") {
		t.Errorf("Expected empty run list, got %q", output)
	}
}

func TestRulesSyncAndAlerts(t *testing.T) {
	env := setupTest(t)
	env.seed(t)
	env.writeRule(t, "satellites.yml", `
description: Ground station work
terms:
  - field: title
    value: satellite
alerts:
  - method: console
`)

	if err := (&RulesSyncCommand{}).Execute(nil); err != nil {
		t.Fatalf("Rules sync failed: %v", err)
	}
	if !strings.Contains(env.out.String(), "Synced 1 rules, deactivated 0") {
		t.Errorf("Unexpected sync output: %q", env.out.String())
	}

	env.out.Reset()
	if err := (&RulesListCommand{}).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.out.String(), "satellites") || !strings.Contains(env.out.String(), "console") {
		t.Errorf("Expected rule with console destination, got %q", env.out.String())
	}

	env.out.Reset()
	if err := (&AlertsCommand{}).Execute(nil); err != nil {
		t.Fatalf("Alerts failed: %v", err)
	}
	output := env.out.String()
	if !strings.Contains(output, "Rule satellites: 1 new match(es)") {
		t.Errorf("Expected console notification, got %q", output)
	}
	if !strings.Contains(output, "1 new matches") {
		t.Errorf("Expected summary with one new match, got %q", output)
	}

	env.out.Reset()
	if err := (&AlertsCommand{}).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(env.out.String(), "new match(es)") {
		t.Errorf("Expected no second notification, got %q", env.out.String())
	}
}

func TestRulesSyncPrune(t *testing.T) {
	env := setupTest(t)
	env.writeRule(t, "a.yml", "description: a\n")
	env.writeRule(t, "b.yml", "description: b\n")

	if err := (&RulesSyncCommand{}).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(env.rulesDir, "b.yml")); err != nil {
		t.Fatal(err)
	}

	env.out.Reset()
	if err := (&RulesSyncCommand{Prune: true}).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.out.String(), "Synced 1 rules, deactivated 1") {
		t.Errorf("Expected one rule deactivated, got %q", env.out.String())
	}
}

func TestMatchesCSV(t *testing.T) {
	env := setupTest(t)
	db := env.seed(t)

	ctx := context.Background()
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	rules := database.NewRuleRepository(db)
	ruleID, err := rules.UpsertRule(ctx, database.Rule{Name: "sat", Kind: "json", Definition: "{}", IsActive: true}, now)
	if err != nil {
		t.Fatal(err)
	}
	opp, err := database.NewOpportunityRepository(db).GetByNoticeID(ctx, "N-1")
	if err != nil || opp == nil {
		t.Fatalf("Expected seeded opportunity, got %v", err)
	}
	_, err = database.NewMatchRepository(db).SaveMatches(ctx, ruleID, []database.MatchCandidate{
		{OpportunityID: opp.ID, Payload: map[string]any{"score": 2}},
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	cmd := &MatchesCommand{Limit: 50, Format: "csv"}
	cmd.Args.Rule = "sat"
	if err := cmd.Execute(nil); err != nil {
		t.Fatalf("Matches failed: %v", err)
	}

	var rows []matchRow
	if err := csvutil.Unmarshal(env.out.Bytes(), &rows); err != nil {
		t.Fatalf("Expected CSV output, got %q: %v", env.out.String(), err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].NoticeID != "N-1" || rows[0].URL != "https://sam.gov/opp/N-1/view" {
		t.Errorf("Unexpected row: %+v", rows[0])
	}
	if rows[0].PayloadJSON != `{"score":2}` {
		t.Errorf("Expected payload column, got '%s'", rows[0].PayloadJSON)
	}

	cmd.Args.Rule = "missing"
	if err := cmd.Execute(nil); err == nil || !strings.Contains(err.Error(), "rule not found") {
		t.Errorf("Expected rule not found error, got %v", err)
	}
}
