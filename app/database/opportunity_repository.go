package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ OpportunityStore = (*OpportunityRepository)(nil)

// OpportunityColumns lists the opportunity columns rules may filter on.
var OpportunityColumns = map[string]bool{
	"id":                 true,
	"notice_id":          true,
	"title":              true,
	"agency":             true,
	"sub_tier":           true,
	"office":             true,
	"notice_type":        true,
	"status":             true,
	"posted_at":          true,
	"updated_at":         true,
	"response_deadline":  true,
	"naics_codes":        true,
	"set_aside":          true,
	"digest":             true,
	"source_modified_at": true,
	"first_seen_at":      true,
	"last_seen_at":       true,
	"last_changed_at":    true,
	"seen_count":         true,
	"changed_seen_count": true,
}

// OpportunityRepository handles database operations for opportunities and
// their child records
type OpportunityRepository struct {
	db *DB
}

func NewOpportunityRepository(db *DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// The digest comparison lives inside the conflict clause so concurrent
// sweeps cannot both classify the same change as an update.
const upsertOpportunitySQL = `
	INSERT INTO opportunities (
		notice_id, title, agency, sub_tier, office, notice_type, status,
		posted_at, updated_at, response_deadline, naics_codes, set_aside,
		digest, source_modified_at, first_seen_at, last_seen_at, last_changed_at,
		seen_count, changed_seen_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 1)
	ON CONFLICT(notice_id) DO UPDATE SET
		title = excluded.title,
		agency = excluded.agency,
		sub_tier = excluded.sub_tier,
		office = excluded.office,
		notice_type = excluded.notice_type,
		status = excluded.status,
		posted_at = excluded.posted_at,
		updated_at = excluded.updated_at,
		response_deadline = excluded.response_deadline,
		naics_codes = excluded.naics_codes,
		set_aside = excluded.set_aside,
		digest = excluded.digest,
		source_modified_at = excluded.source_modified_at,
		last_seen_at = excluded.last_seen_at,
		seen_count = opportunities.seen_count + 1,
		changed_seen_count = CASE
			WHEN excluded.digest IS NOT opportunities.digest THEN opportunities.seen_count + 1
			ELSE opportunities.changed_seen_count
		END,
		last_changed_at = CASE
			WHEN excluded.digest IS NOT opportunities.digest
				THEN MAX(excluded.last_seen_at, COALESCE(opportunities.last_changed_at, ''))
			ELSE opportunities.last_changed_at
		END
	RETURNING id, seen_count, changed_seen_count`

// SaveRecord upserts the opportunity header and replaces its children in a
// single transaction.
func (r *OpportunityRepository) SaveRecord(ctx context.Context, record *OpportunityRecord, now time.Time) (UpsertResult, error) {
	var result UpsertResult

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = upsertOpportunity(ctx, tx, &record.Opportunity, now)
		if err != nil {
			return err
		}
		if err := replaceAwards(ctx, tx, result.OpportunityID, record.Awards); err != nil {
			return err
		}
		if err := replaceContacts(ctx, tx, result.OpportunityID, record.Contacts); err != nil {
			return err
		}
		if record.Description != nil {
			if err := replaceDescription(ctx, tx, result.OpportunityID, *record.Description, now); err != nil {
				return err
			}
		}
		return replaceAttachments(ctx, tx, result.OpportunityID, record.Attachments, now)
	})
	if err != nil {
		return UpsertResult{}, err
	}

	return result, nil
}

func upsertOpportunity(ctx context.Context, q Querier, o *Opportunity, now time.Time) (UpsertResult, error) {
	ts := FormatTime(now)

	var id, seen, changedSeen int64
	err := q.QueryRowContext(ctx, upsertOpportunitySQL,
		o.NoticeID, o.Title, nullString(o.Agency), nullString(o.SubTier), nullString(o.Office),
		nullString(o.NoticeType), nullString(o.Status), nullString(o.PostedAt), nullString(o.UpdatedAt),
		nullString(o.ResponseDeadline), nullString(o.NAICSCodes), nullString(o.SetAside),
		nullString(o.Digest), nullString(o.SourceModifiedAt), ts, ts, ts,
	).Scan(&id, &seen, &changedSeen)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert opportunity %s: %w", o.NoticeID, err)
	}

	return UpsertResult{
		OpportunityID: id,
		Created:       seen == 1,
		Updated:       seen > 1 && changedSeen == seen,
	}, nil
}

func replaceAwards(ctx context.Context, q Querier, opportunityID int64, awards []Award) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM awards WHERE opportunity_id = ?`, opportunityID); err != nil {
		return fmt.Errorf("failed to delete awards: %w", err)
	}

	for _, a := range awards {
		_, err := q.ExecContext(ctx, `
			INSERT INTO awards (opportunity_id, award_type, date, description, amount, vendor_name, vendor_duns)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			opportunityID, nullString(a.AwardType), nullString(a.Date), nullString(a.Description),
			a.Amount, nullString(a.VendorName), nullString(a.VendorDUNS))
		if err != nil {
			return fmt.Errorf("failed to insert award: %w", err)
		}
	}
	return nil
}

func replaceContacts(ctx context.Context, q Querier, opportunityID int64, contacts []Contact) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM contacts WHERE opportunity_id = ?`, opportunityID); err != nil {
		return fmt.Errorf("failed to delete contacts: %w", err)
	}

	for _, c := range contacts {
		_, err := q.ExecContext(ctx, `
			INSERT INTO contacts (opportunity_id, name, type, email, phone)
			VALUES (?, ?, ?, ?, ?)`,
			opportunityID, nullString(c.Name), nullString(c.Type), nullString(c.Email), nullString(c.Phone))
		if err != nil {
			return fmt.Errorf("failed to insert contact: %w", err)
		}
	}
	return nil
}

func replaceDescription(ctx context.Context, q Querier, opportunityID int64, body string, now time.Time) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM descriptions WHERE opportunity_id = ?`, opportunityID); err != nil {
		return fmt.Errorf("failed to delete description: %w", err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO descriptions (opportunity_id, body, fetched_at)
		VALUES (?, ?, ?)`,
		opportunityID, body, FormatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert description: %w", err)
	}
	return nil
}

func replaceAttachments(ctx context.Context, q Querier, opportunityID int64, attachments []Attachment, now time.Time) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM attachments WHERE opportunity_id = ?`, opportunityID); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}

	for _, a := range attachments {
		_, err := q.ExecContext(ctx, `
			INSERT INTO attachments (opportunity_id, url, file_name, local_path, sha256, bytes, downloaded, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			opportunityID, a.URL, nullString(a.FileName), nullString(a.LocalPath), nullString(a.SHA256),
			a.Bytes, a.Downloaded, FormatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

const opportunityColumnsSQL = `
	id, notice_id, title, COALESCE(agency, ''), COALESCE(sub_tier, ''), COALESCE(office, ''),
	COALESCE(notice_type, ''), COALESCE(status, ''), COALESCE(posted_at, ''), COALESCE(updated_at, ''),
	COALESCE(response_deadline, ''), COALESCE(naics_codes, ''), COALESCE(set_aside, ''),
	COALESCE(digest, ''), COALESCE(source_modified_at, ''), first_seen_at, last_seen_at, last_changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (*Opportunity, error) {
	var o Opportunity
	var firstSeen, lastSeen string
	var lastChanged sql.NullString

	err := row.Scan(&o.ID, &o.NoticeID, &o.Title, &o.Agency, &o.SubTier, &o.Office,
		&o.NoticeType, &o.Status, &o.PostedAt, &o.UpdatedAt, &o.ResponseDeadline,
		&o.NAICSCodes, &o.SetAside, &o.Digest, &o.SourceModifiedAt,
		&firstSeen, &lastSeen, &lastChanged)
	if err != nil {
		return nil, err
	}

	o.FirstSeenAt, _ = ParseTime(firstSeen)
	o.LastSeenAt, _ = ParseTime(lastSeen)
	o.LastChangedAt = nullTime(lastChanged)
	return &o, nil
}

// GetByNoticeID returns the opportunity with its children, or nil if unknown.
func (r *OpportunityRepository) GetByNoticeID(ctx context.Context, noticeID string) (*OpportunityDetails, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+opportunityColumnsSQL+` FROM opportunities WHERE notice_id = ?`, noticeID)
	o, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}

	details := &OpportunityDetails{Opportunity: *o}

	if details.Awards, err = r.getAwards(ctx, o.ID); err != nil {
		return nil, err
	}
	if details.Contacts, err = r.getContacts(ctx, o.ID); err != nil {
		return nil, err
	}
	if details.Attachments, err = r.getAttachments(ctx, o.ID); err != nil {
		return nil, err
	}

	var body, fetchedAt string
	err = r.db.QueryRowContext(ctx, `SELECT body, fetched_at FROM descriptions WHERE opportunity_id = ?`, o.ID).Scan(&body, &fetchedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get description: %w", err)
	default:
		fetched, _ := ParseTime(fetchedAt)
		details.Description = &Description{Body: body, FetchedAt: fetched}
	}

	return details, nil
}

func (r *OpportunityRepository) getAwards(ctx context.Context, opportunityID int64) ([]Award, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(award_type, ''), COALESCE(date, ''), COALESCE(description, ''), amount,
			COALESCE(vendor_name, ''), COALESCE(vendor_duns, '')
		FROM awards WHERE opportunity_id = ? ORDER BY id`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get awards: %w", err)
	}
	defer rows.Close()

	var awards []Award
	for rows.Next() {
		var a Award
		var amount sql.NullFloat64
		if err := rows.Scan(&a.AwardType, &a.Date, &a.Description, &amount, &a.VendorName, &a.VendorDUNS); err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		if amount.Valid {
			a.Amount = &amount.Float64
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

func (r *OpportunityRepository) getContacts(ctx context.Context, opportunityID int64) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(name, ''), COALESCE(type, ''), COALESCE(email, ''), COALESCE(phone, '')
		FROM contacts WHERE opportunity_id = ? ORDER BY id`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Type, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *OpportunityRepository) getAttachments(ctx context.Context, opportunityID int64) ([]Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT url, COALESCE(file_name, ''), COALESCE(local_path, ''), COALESCE(sha256, ''), bytes, downloaded
		FROM attachments WHERE opportunity_id = ? ORDER BY id`, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		var size sql.NullInt64
		if err := rows.Scan(&a.URL, &a.FileName, &a.LocalPath, &a.SHA256, &size, &a.Downloaded); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		if size.Valid {
			a.Bytes = &size.Int64
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

// GetByIDs loads opportunity headers keyed by id. Unknown ids are omitted.
func (r *OpportunityRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]Opportunity, error) {
	result := make(map[int64]Opportunity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+opportunityColumnsSQL+` FROM opportunities WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		result[o.ID] = *o
	}
	return result, rows.Err()
}

// Search runs an FTS5 match over title, agency and description body.
func (r *OpportunityRepository) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.notice_id, o.title, COALESCE(o.agency, ''), COALESCE(o.posted_at, ''),
			snippet(opportunity_search, 2, '[', ']', '...', 12)
		FROM opportunity_search
		JOIN opportunities o ON o.id = opportunity_search.rowid
		WHERE opportunity_search MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search opportunities: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var s SearchResult
		if err := rows.Scan(&s.OpportunityID, &s.NoticeID, &s.Title, &s.Agency, &s.PostedAt, &s.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}
