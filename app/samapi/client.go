package samapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/samwatch/app/ratelimit"
	"golang.org/x/time/rate"
)

const (
	maxPageLimit       = 1000
	maxErrorBodyBytes  = 200
	maxDescriptionSize = 10 << 20
)

type Config struct {
	BaseURL     string
	APIKey      string
	UserAgent   string
	SearchLimit int
	Timeout     time.Duration
	// RequestsPerSec smooths bursts below the hourly budget. Zero disables pacing.
	RequestsPerSec float64
	// AcquireTimeout bounds the wait for a rate limit token. Zero waits until
	// the context is done.
	AcquireTimeout time.Duration
	Retry          RetryPolicy
}

type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	pacer      *rate.Limiter

	baseURL        string
	apiKey         string
	userAgent      string
	searchLimit    int
	acquireTimeout time.Duration
	retry          RetryPolicy
}

func New(c Config, limiter *ratelimit.Limiter) *Client {
	client := &Client{
		httpClient:     &http.Client{Timeout: c.Timeout},
		limiter:        limiter,
		baseURL:        strings.TrimRight(c.BaseURL, "/"),
		apiKey:         c.APIKey,
		userAgent:      c.UserAgent,
		searchLimit:    c.SearchLimit,
		acquireTimeout: c.AcquireTimeout,
		retry:          c.Retry,
	}
	if client.retry.MaxTries == 0 {
		client.retry = DefaultRetryPolicy
	}
	if c.RequestsPerSec > 0 {
		client.pacer = rate.NewLimiter(rate.Limit(c.RequestsPerSec), 1)
	}
	return client
}

// PageLimit is the page size used when SearchParams.Limit is unset.
func (c *Client) PageLimit() int {
	if c.searchLimit <= 0 {
		return maxPageLimit
	}
	return min(c.searchLimit, maxPageLimit)
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	if !c.limiter.Acquire(ctx, 1, true, c.acquireTimeout) {
		return nil, ErrBudgetExhausted
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for request pacing: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	c.limiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()
		slog.Warn("Received 429 from SAM.gov", "retry_after", retryAfter)
		c.limiter.RecordRetryAfter(ctx, retryAfter)
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

// SearchOpportunities fetches one page of search results.
func (c *Client) SearchOpportunities(ctx context.Context, params SearchParams) (*SearchPage, error) {
	if params.Limit <= 0 {
		params.Limit = c.PageLimit()
	}
	q := params.query()
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	resp, err := c.get(ctx, c.baseURL+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page SearchPage
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	return &page, nil
}

// IterSearch walks every page of a search lazily. Each call starts over from
// params.Offset.
func (c *Client) IterSearch(ctx context.Context, params SearchParams) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		offset := params.Offset
		limit := params.Limit
		if limit <= 0 {
			limit = c.PageLimit()
		}

		for {
			p := params
			p.Offset = offset
			p.Limit = limit

			page, err := c.SearchOpportunities(ctx, p)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Records) == 0 {
				return
			}
			for _, record := range page.Records {
				if !yield(record, nil) {
					return
				}
			}

			offset += limit
			if offset >= page.TotalRecords {
				return
			}
		}
	}
}

// FetchDescription returns the raw body behind a notice description link.
func (c *Client) FetchDescription(ctx context.Context, descriptionURL string) (string, error) {
	target, err := c.withAPIKey(descriptionURL)
	if err != nil {
		return "", err
	}

	resp, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return "", &TransportError{Err: err}
	}
	return string(body), nil
}

func (c *Client) withAPIKey(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if c.apiKey == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("api_key") == "" {
		q.Set("api_key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
