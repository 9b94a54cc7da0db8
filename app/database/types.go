package database

import (
	"time"
)

type Opportunity struct {
	ID               int64
	NoticeID         string
	Title            string
	Agency           string
	SubTier          string
	Office           string
	NoticeType       string
	Status           string
	PostedAt         string // as supplied by the source
	UpdatedAt        string
	ResponseDeadline string
	NAICSCodes       string // comma-joined
	SetAside         string
	Digest           string
	SourceModifiedAt string
	FirstSeenAt      time.Time
	LastSeenAt       time.Time
	LastChangedAt    *time.Time
}

type Award struct {
	AwardType   string
	Date        string
	Description string
	Amount      *float64
	VendorName  string
	VendorDUNS  string
}

type Contact struct {
	Name  string
	Type  string
	Email string
	Phone string
}

type Attachment struct {
	URL        string
	FileName   string
	LocalPath  string // relative to the files directory; empty unless downloaded
	SHA256     string
	Bytes      *int64
	Downloaded bool
}

type Description struct {
	Body      string
	FetchedAt time.Time
}

// OpportunityRecord is everything persisted for one notice in one transaction.
// A nil Description leaves any stored description in place.
type OpportunityRecord struct {
	Opportunity Opportunity
	Awards      []Award
	Contacts    []Contact
	Description *string
	Attachments []Attachment
}

type UpsertResult struct {
	OpportunityID int64
	Created       bool
	Updated       bool
}

type OpportunityDetails struct {
	Opportunity
	Awards      []Award
	Contacts    []Contact
	Description *Description
	Attachments []Attachment
}

type SearchResult struct {
	OpportunityID int64
	NoticeID      string
	Title         string
	Agency        string
	PostedAt      string
	Snippet       string
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type Run struct {
	ID           int64
	Kind         string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage string
	WindowStart  string
	WindowEnd    string
	Metrics      map[string]int64
}

type Rule struct {
	ID          int64
	Name        string
	Description string
	Kind        string
	Definition  string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Alert struct {
	ID             int64
	RuleID         int64
	DeliveryMethod string
	Target         string
}

// MatchCandidate is one row produced by a rule.
type MatchCandidate struct {
	OpportunityID int64
	Payload       map[string]any
}

// MatchView is a stored match joined with its opportunity.
type MatchView struct {
	RuleID         int64
	OpportunityID  int64
	NoticeID       string
	Title          string
	Agency         string
	PostedAt       string
	FirstMatchedAt time.Time
	MatchedAt      time.Time
	Payload        map[string]any
}

type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusSkipped   DeliveryStatus = "skipped"
)

type Delivery struct {
	ID             int64
	RuleID         int64
	AlertID        *int64
	DeliveryMethod string
	MatchCount     int
	Status         DeliveryStatus
	ErrorMessage   string
	AttemptedAt    time.Time
}
