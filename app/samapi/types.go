package samapi

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DateLayout is the format of the postedFrom/postedTo/modifiedFrom parameters.
const DateLayout = "2006-01-02"

var (
	// ErrBudgetExhausted is returned when no rate limit token could be acquired.
	ErrBudgetExhausted = errors.New("rate limit budget exhausted")
	// ErrRateLimited is returned after the API answered 429.
	ErrRateLimited = errors.New("rate limited by SAM.gov API")
)

// APIError is a non-2xx answer other than 429. It is not retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("SAM.gov API error: %d %s", e.StatusCode, e.Body)
}

// TransportError wraps network-level failures (connect, reset, truncated body).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var transportErr *TransportError
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBudgetExhausted) || errors.As(err, &transportErr)
}

type SearchParams struct {
	PostedFrom   time.Time
	PostedTo     time.Time
	ModifiedFrom time.Time
	Offset       int
	Limit        int
	// Extra carries additional query parameters such as noticeid.
	Extra url.Values
}

func (p SearchParams) query() url.Values {
	q := url.Values{}
	for k, vs := range p.Extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if !p.PostedFrom.IsZero() {
		q.Set("postedFrom", p.PostedFrom.Format(DateLayout))
	}
	if !p.PostedTo.IsZero() {
		q.Set("postedTo", p.PostedTo.Format(DateLayout))
	}
	if !p.ModifiedFrom.IsZero() {
		q.Set("modifiedFrom", p.ModifiedFrom.Format(DateLayout))
	}
	q.Set("offset", strconv.Itoa(p.Offset))
	q.Set("limit", strconv.Itoa(p.Limit))
	return q
}

type SearchPage struct {
	TotalRecords int      `json:"totalRecords"`
	Records      []Record `json:"opportunitiesData"`
}

type AttachmentDownload struct {
	URL    string
	Path   string
	SHA256 string
	Bytes  int64
}

type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	MaxTries:        5,
}
