package alerts

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("unknown rule kind")
	ErrUnknownMethod = errors.New("unknown delivery method")
	// ErrIncomplete marks a destination missing required settings. It is
	// skipped rather than failed.
	ErrIncomplete = errors.New("incomplete destination")
)

const (
	KindSQL  = "sql"
	KindJSON = "json"

	MethodCLI     = "cli"
	MethodConsole = "console"
	MethodWebhook = "webhook"
	MethodEmail   = "email"
)

// ViewURL is the public page of a notice.
func ViewURL(noticeID string) string {
	return fmt.Sprintf("https://sam.gov/opp/%s/view", noticeID)
}

// Entry is one newly matched opportunity as handed to a destination.
type Entry struct {
	OpportunityID int64          `json:"opportunity_id"`
	NoticeID      string         `json:"notice_id"`
	Title         string         `json:"title"`
	Agency        string         `json:"agency"`
	PostedAt      string         `json:"posted_at"`
	URL           string         `json:"url"`
	Payload       map[string]any `json:"payload"`
}

// Notification is the body posted to webhooks.
type Notification struct {
	Rule    string  `json:"rule"`
	Matches []Entry `json:"matches"`
}

// Term is a single substring condition of a json rule.
type Term struct {
	Field string `json:"field" yaml:"field"`
	Value any    `json:"value" yaml:"value"`
}

// JSONRule is the definition of a json rule. Terms are ANDed.
type JSONRule struct {
	Terms []Term `json:"terms" yaml:"terms"`
}

// Summary describes one evaluation pass.
type Summary struct {
	RulesEvaluated   int
	RulesFailed      int
	RulesSkipped     int
	NewMatches       int
	Deliveries       int
	FailedDeliveries int
}
