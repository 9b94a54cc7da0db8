package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string {
	return &s
}

func sampleRecord(digest string) *OpportunityRecord {
	amount := 125000.5
	size := int64(12)
	return &OpportunityRecord{
		Opportunity: Opportunity{
			NoticeID:   "ABC123",
			Title:      "Cloud migration services",
			Agency:     "General Services Administration",
			Status:     "active",
			PostedAt:   "2024-03-01",
			NAICSCodes: "541512,541519",
			Digest:     digest,
		},
		Awards:      []Award{{AwardType: "Definitive", Amount: &amount, VendorName: "Acme"}},
		Contacts:    []Contact{{Name: "Jane Doe", Email: "jane@example.gov"}},
		Description: strPtr("Migrate legacy workloads to the cloud"),
		Attachments: []Attachment{{URL: "https://example.gov/sow.pdf", FileName: "sow.pdf", LocalPath: "ABC123/sow.pdf", SHA256: "abc", Bytes: &size, Downloaded: true}},
	}
}

func countRows(t *testing.T, db *DB, table string) int64 {
	t.Helper()
	counts, err := db.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return counts[table]
}

func TestSaveRecordCreatesOpportunityAndChildren(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	result, err := repo.SaveRecord(ctx, sampleRecord("d1"), now)
	if err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	if !result.Created || result.Updated {
		t.Errorf("Expected created=true updated=false, got %+v", result)
	}

	for table, expected := range map[string]int64{"opportunities": 1, "awards": 1, "contacts": 1, "descriptions": 1, "attachments": 1} {
		if got := countRows(t, db, table); got != expected {
			t.Errorf("Expected %d rows in %s, got %d", expected, table, got)
		}
	}

	details, err := repo.GetByNoticeID(ctx, "ABC123")
	if err != nil || details == nil {
		t.Fatalf("GetByNoticeID failed: %v", err)
	}
	if details.Description == nil || details.Description.Body != "Migrate legacy workloads to the cloud" {
		t.Errorf("Expected description body, got %+v", details.Description)
	}
	if len(details.Awards) != 1 || details.Awards[0].Amount == nil || *details.Awards[0].Amount != 125000.5 {
		t.Errorf("Expected award amount 125000.5, got %+v", details.Awards)
	}
	if len(details.Attachments) != 1 || !details.Attachments[0].Downloaded || *details.Attachments[0].Bytes != 12 {
		t.Errorf("Expected downloaded attachment of 12 bytes, got %+v", details.Attachments)
	}
	if details.LastChangedAt == nil || !details.LastChangedAt.Equal(now) {
		t.Errorf("Expected last_changed_at %v, got %v", now, details.LastChangedAt)
	}
}

func TestSaveRecordUnchangedDigest(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if _, err := repo.SaveRecord(ctx, sampleRecord("d1"), first); err != nil {
		t.Fatal(err)
	}
	result, err := repo.SaveRecord(ctx, sampleRecord("d1"), second)
	if err != nil {
		t.Fatal(err)
	}

	if result.Created || result.Updated {
		t.Errorf("Expected neither created nor updated, got %+v", result)
	}

	details, _ := repo.GetByNoticeID(ctx, "ABC123")
	if !details.LastChangedAt.Equal(first) {
		t.Errorf("Expected last_changed_at to stay %v, got %v", first, details.LastChangedAt)
	}
	if !details.LastSeenAt.Equal(second) {
		t.Errorf("Expected last_seen_at %v, got %v", second, details.LastSeenAt)
	}
	if got := countRows(t, db, "awards"); got != 1 {
		t.Errorf("Expected children to be replaced not appended, got %d awards", got)
	}
}

func TestSaveRecordChangedDigest(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.SaveRecord(ctx, sampleRecord("d1"), first)

	changed := sampleRecord("d2")
	changed.Contacts = nil
	result, err := repo.SaveRecord(ctx, changed, first.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if result.Created || !result.Updated {
		t.Errorf("Expected updated only, got %+v", result)
	}

	again, _ := repo.SaveRecord(ctx, sampleRecord("d2"), first.Add(2*time.Hour))
	if again.Updated {
		t.Error("Expected a repeat of the new digest not to count as updated")
	}

	details, _ := repo.GetByNoticeID(ctx, "ABC123")
	if !details.LastChangedAt.Equal(first.Add(time.Hour)) {
		t.Errorf("Expected last_changed_at to advance to the change, got %v", details.LastChangedAt)
	}
}

func TestSaveRecordLastChangedNeverRegresses(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.SaveRecord(ctx, sampleRecord("d1"), now)
	repo.SaveRecord(ctx, sampleRecord("d2"), now.Add(-time.Hour))

	details, _ := repo.GetByNoticeID(ctx, "ABC123")
	if !details.LastChangedAt.Equal(now) {
		t.Errorf("Expected last_changed_at to stay at %v, got %v", now, details.LastChangedAt)
	}
}

func TestSaveRecordKeepsDescriptionWhenAbsent(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	now := time.Now()

	repo.SaveRecord(ctx, sampleRecord("d1"), now)

	withoutDescription := sampleRecord("d1")
	withoutDescription.Description = nil
	repo.SaveRecord(ctx, withoutDescription, now)

	details, _ := repo.GetByNoticeID(ctx, "ABC123")
	if details.Description == nil {
		t.Error("Expected prior description to be kept")
	}
}

func TestSearchFollowsDescriptions(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()
	now := time.Now()

	repo.SaveRecord(ctx, sampleRecord("d1"), now)

	results, err := repo.Search(ctx, "legacy", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].NoticeID != "ABC123" {
		t.Fatalf("Expected ABC123 in results, got %+v", results)
	}

	replaced := sampleRecord("d2")
	replaced.Description = strPtr("Satellite ground station maintenance")
	repo.SaveRecord(ctx, replaced, now)

	if results, _ := repo.Search(ctx, "legacy", 10); len(results) != 0 {
		t.Errorf("Expected old body to leave the index, got %+v", results)
	}
	if results, _ := repo.Search(ctx, "satellite", 10); len(results) != 1 {
		t.Errorf("Expected new body to be indexed, got %+v", results)
	}
}

func TestGetByIDs(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()

	result, _ := repo.SaveRecord(ctx, sampleRecord("d1"), time.Now())

	found, err := repo.GetByIDs(ctx, []int64{result.OpportunityID, 9999})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[result.OpportunityID].NoticeID != "ABC123" {
		t.Errorf("Expected only the known opportunity, got %+v", found)
	}
}

func TestGetByNoticeIDUnknown(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)

	details, err := repo.GetByNoticeID(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if details != nil {
		t.Errorf("Expected nil for unknown notice, got %+v", details)
	}
}

func TestQueryMaps(t *testing.T) {
	db := openTestDB(t)
	repo := NewOpportunityRepository(db)
	ctx := context.Background()

	repo.SaveRecord(ctx, sampleRecord("d1"), time.Now())

	rows, err := db.QueryMaps(ctx, "SELECT id AS opportunity_id, title FROM opportunities")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0]["title"] != "Cloud migration services" {
		t.Errorf("Expected title column as string, got %#v", rows[0]["title"])
	}
	if _, ok := rows[0]["opportunity_id"].(int64); !ok {
		t.Errorf("Expected opportunity_id as int64, got %#v", rows[0]["opportunity_id"])
	}
}
