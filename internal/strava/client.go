package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/auth"
	"github.com/joshdurbin/strava-weekly/internal/logging"
)

const (
	baseURL        = "https://www.strava.com/api/v3"
	defaultPerPage = 200
	requestTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Activity is one summary activity from /athlete/activities. Fields the
// report reads are pointers: Strava omits or nulls them on manual entries
// and some device uploads, and the report needs to tell absent from zero.
type Activity struct {
	ID                 int64    `json:"id"`
	Name               *string  `json:"name"`
	Type               *string  `json:"type"`
	SportType          *string  `json:"sport_type"`
	MovingTime         *float64 `json:"moving_time"`
	Distance           *float64 `json:"distance"`
	TotalElevationGain *float64 `json:"total_elevation_gain"`
	StartDateLocal     *string  `json:"start_date_local"`
}

// ErrRateLimited indicates the API returned a 429 rate limit error
var ErrRateLimited = errors.New("rate limited")

// RateLimitInfo is the usage Strava reports in response headers
type RateLimitInfo struct {
	Limit15Min int
	Usage15Min int
	LimitDaily int
	UsageDaily int
}

// Client lists activities with a freshly refreshed access token. Every
// request is attempted once; failures are returned, never retried.
type Client struct {
	httpClient *retryablehttp.Client
	tokens     auth.TokenSource
	baseURL    string
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at a different API root (for testing)
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = hc
	}
}

// NewClient creates a Strava API client
func NewClient(tokens auth.TokenSource, opts ...Option) *Client {
	log := logging.Logger

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient = &http.Client{Timeout: requestTimeout}
	client.Logger = &logging.LeveledLogger{}

	// One attempt. Transport errors come back as-is; HTTP error statuses come
	// back as responses so the caller can report the body.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}

	client.RequestLogHook = func(logger retryablehttp.Logger, req *http.Request, attempt int) {
		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Str("headers", formatHeaders(req.Header)).
				Msg("request headers")
		}
	}

	client.ResponseLogHook = func(logger retryablehttp.Logger, resp *http.Response) {
		rateLimit := parseRateLimitHeaders(resp.Header)

		if logging.IsTraceEnabled() {
			log.Debug().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("headers", formatHeaders(resp.Header)).
				Msg("response headers")
		}

		if rateLimit.Limit15Min > 0 {
			log.Debug().
				Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
				Msg("rate limit usage")
		}
	}

	c := &Client{
		httpClient: client,
		tokens:     tokens,
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities refreshes the access token once, then pages through the
// athlete's activities between after and before (epoch seconds). Paging stops
// at the first page shorter than perPage; perPage <= 0 means 200. Any failed
// page fails the whole call.
func (c *Client) ListActivities(ctx context.Context, after, before int64, perPage int) ([]Activity, error) {
	log := logging.Logger

	if perPage <= 0 {
		perPage = defaultPerPage
	}

	token, err := c.tokens.RefreshAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	var all []Activity
	for page := 1; ; page++ {
		batch, err := c.fetchActivitiesPage(ctx, token.AccessToken, after, before, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("fetching activities page %d: %w", page, err)
		}

		log.Debug().
			Int("page", page).
			Int("count", len(batch)).
			Int("total", len(all)+len(batch)).
			Msg("fetched activities page")

		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}

	return all, nil
}

func (c *Client) fetchActivitiesPage(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]Activity, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("before", strconv.FormatInt(before, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/athlete/activities?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.WrapUpstream("GET /athlete/activities", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		upstream := apperr.NewUpstreamError("GET /athlete/activities", resp.StatusCode, body)

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimit := parseRateLimitHeaders(resp.Header)
			logging.Logger.Warn().
				Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
				Msg("rate limited by API")
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, upstream)
		}
		return nil, upstream
	}

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return activities, nil
}

// minPositive returns the minimum of two values, preferring positive values.
// If one value is zero/unset, returns the other.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

// parsePair reads Strava's "15min,daily" header format
func parsePair(v string) (int, int) {
	if v == "" {
		return 0, 0
	}
	parts := strings.Split(v, ",")
	first, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	var second int
	if len(parts) >= 2 {
		second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, second
}

// parseRateLimitHeaders combines the general X-RateLimit-* and the stricter
// X-ReadRateLimit-* headers: the lower limit and the higher usage win.
func parseRateLimitHeaders(headers http.Header) RateLimitInfo {
	generalLimit15, generalLimitDaily := parsePair(headers.Get("X-RateLimit-Limit"))
	generalUsage15, generalUsageDaily := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15, readLimitDaily := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15, readUsageDaily := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	return RateLimitInfo{
		Limit15Min: minPositive(generalLimit15, readLimit15),
		LimitDaily: minPositive(generalLimitDaily, readLimitDaily),
		Usage15Min: max(generalUsage15, readUsage15),
		UsageDaily: max(generalUsageDaily, readUsageDaily),
	}
}

// formatHeaders formats HTTP headers for logging, redacting sensitive values
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}

		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}

		sb.WriteString(fmt.Sprintf("%s: %q", k, value))
	}
	sb.WriteString("}")
	return sb.String()
}
