package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/auth"
)

type fakeTokens struct {
	calls int32
	err   error
}

func (f *fakeTokens) RefreshAccessToken(ctx context.Context) (auth.TokenBundle, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return auth.TokenBundle{}, f.err
	}
	return auth.TokenBundle{AccessToken: "test-token", ExpiresAt: 1735711200}, nil
}

func makeActivities(n, offset int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":         offset + i + 1,
			"name":       fmt.Sprintf("Activity %d", offset+i+1),
			"sport_type": "Run",
		}
	}
	return out
}

func TestNewClient(t *testing.T) {
	client := NewClient(&fakeTokens{})

	if client.baseURL != baseURL {
		t.Errorf("expected base URL '%s', got '%s'", baseURL, client.baseURL)
	}
	if client.httpClient == nil {
		t.Fatal("expected http client to be initialized")
	}
	if client.httpClient.RetryMax != 0 {
		t.Errorf("expected no retries, got %d", client.httpClient.RetryMax)
	}
	if client.httpClient.HTTPClient.Timeout != requestTimeout {
		t.Errorf("expected %s timeout, got %s", requestTimeout, client.httpClient.HTTPClient.Timeout)
	}
}

func TestListActivitiesStopsAfterEmptyPage(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected Bearer test-token, got %s", got)
		}
		if r.URL.Path != "/athlete/activities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		q := r.URL.Query()
		if q.Get("after") != "1735516800" || q.Get("before") != "1736121600" {
			t.Errorf("unexpected window after=%s before=%s", q.Get("after"), q.Get("before"))
		}
		if q.Get("per_page") != "3" {
			t.Errorf("expected per_page=3, got %s", q.Get("per_page"))
		}

		var body []map[string]any
		switch q.Get("page") {
		case "1":
			body = makeActivities(3, 0)
		default:
			body = []map[string]any{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "100,1000")
		w.Header().Set("X-RateLimit-Usage", "5,50")
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	tokens := &fakeTokens{}
	client := NewClient(tokens, WithBaseURL(server.URL))

	activities, err := client.ListActivities(context.Background(), 1735516800, 1736121600, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(activities) != 3 {
		t.Errorf("expected 3 activities, got %d", len(activities))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 page requests, got %d", got)
	}
	if tokens.calls != 1 {
		t.Errorf("expected a single token refresh, got %d", tokens.calls)
	}
}

func TestListActivitiesStopsOnShortPage(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page != 1 {
			t.Errorf("did not expect a request for page %d", page)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(makeActivities(2, 0))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	activities, err := client.ListActivities(context.Background(), 0, 1, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(activities) != 2 {
		t.Errorf("expected 2 activities, got %d", len(activities))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 page request, got %d", got)
	}
}

func TestListActivitiesConcatenatesPagesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []map[string]any
		switch r.URL.Query().Get("page") {
		case "1":
			body = makeActivities(2, 0)
		case "2":
			body = makeActivities(2, 2)
		case "3":
			body = makeActivities(1, 4)
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	activities, err := client.ListActivities(context.Background(), 0, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(activities) != 5 {
		t.Fatalf("expected 5 activities, got %d", len(activities))
	}
	for i, a := range activities {
		if a.ID != int64(i+1) {
			t.Errorf("position %d: expected id %d, got %d", i, i+1, a.ID)
		}
	}
}

func TestListActivitiesDefaultPageSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("per_page"); got != "200" {
			t.Errorf("expected per_page=200, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	activities, err := client.ListActivities(context.Background(), 0, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("expected no activities, got %d", len(activities))
	}
}

func TestListActivitiesUnauthorized(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Authorization Error"}`))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	_, err := client.ListActivities(context.Background(), 0, 1, 200)
	if err == nil {
		t.Fatal("expected error for unauthorized request")
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeUpstream {
		t.Fatalf("expected upstream error, got %T: %v", err, err)
	}
	if appErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", appErr.StatusCode)
	}
	if appErr.Details != `{"message":"Authorization Error"}` {
		t.Errorf("expected response body in details, got %q", appErr.Details)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected no retry, got %d requests", got)
	}
}

func TestListActivitiesFailedLaterPageDiscardsEarlierPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(makeActivities(2, 0))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	activities, err := client.ListActivities(context.Background(), 0, 1, 2)
	if !apperr.Is(err, apperr.CodeUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if activities != nil {
		t.Errorf("expected no partial result, got %d activities", len(activities))
	}
}

func TestListActivitiesRefreshFailure(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	refreshErr := apperr.NewUpstreamError("refresh token", http.StatusBadRequest, []byte("invalid"))
	client := NewClient(&fakeTokens{err: refreshErr}, WithBaseURL(server.URL))

	_, err := client.ListActivities(context.Background(), 0, 1, 200)
	if !errors.Is(err, refreshErr) {
		t.Fatalf("expected refresh error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no activity requests, got %d", got)
	}
}

func TestListActivitiesContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.ListActivities(ctx, 0, 1, 200); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestListActivitiesRateLimited(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("X-RateLimit-Limit", "100,1000")
		w.Header().Set("X-RateLimit-Usage", "101,500")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Rate Limit Exceeded"}`))
	}))
	defer server.Close()

	client := NewClient(&fakeTokens{}, WithBaseURL(server.URL))

	_, err := client.ListActivities(context.Background(), 0, 1, 200)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !apperr.Is(err, apperr.CodeUpstream) {
		t.Errorf("expected the upstream error to be wrapped, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single request, got %d", got)
	}
}

func TestActivityJSONUnmarshal(t *testing.T) {
	jsonData := `{
		"id": 12345,
		"name": "Morning Run",
		"sport_type": "TrailRun",
		"type": "Run",
		"moving_time": 1800,
		"distance": 5000.5,
		"total_elevation_gain": 50,
		"start_date_local": "2024-01-15T08:00:00Z"
	}`

	var a Activity
	if err := json.Unmarshal([]byte(jsonData), &a); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if a.ID != 12345 {
		t.Errorf("expected ID 12345, got %d", a.ID)
	}
	if a.SportType == nil || *a.SportType != "TrailRun" {
		t.Errorf("expected sport_type TrailRun, got %v", a.SportType)
	}
	if a.Distance == nil || *a.Distance != 5000.5 {
		t.Errorf("expected distance 5000.5, got %v", a.Distance)
	}
	if a.StartDateLocal == nil || *a.StartDateLocal != "2024-01-15T08:00:00Z" {
		t.Errorf("unexpected start_date_local %v", a.StartDateLocal)
	}
}

func TestActivityJSONMissingFields(t *testing.T) {
	var a Activity
	if err := json.Unmarshal([]byte(`{"id": 1, "name": null, "distance": 0}`), &a); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if a.Name != nil {
		t.Errorf("expected nil name, got %q", *a.Name)
	}
	if a.Distance == nil || *a.Distance != 0 {
		t.Errorf("expected present zero distance, got %v", a.Distance)
	}
	if a.MovingTime != nil || a.SportType != nil || a.StartDateLocal != nil {
		t.Errorf("expected absent fields to stay nil: %+v", a)
	}
}

func TestParseRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "200,2000")
	h.Set("X-RateLimit-Usage", "10,100")
	h.Set("X-ReadRateLimit-Limit", "100,1000")
	h.Set("X-ReadRateLimit-Usage", "12,90")

	info := parseRateLimitHeaders(h)

	if info.Limit15Min != 100 || info.LimitDaily != 1000 {
		t.Errorf("expected the stricter limits, got %+v", info)
	}
	if info.Usage15Min != 12 || info.UsageDaily != 100 {
		t.Errorf("expected the higher usage, got %+v", info)
	}

	if empty := parseRateLimitHeaders(http.Header{}); empty != (RateLimitInfo{}) {
		t.Errorf("expected zero info without headers, got %+v", empty)
	}
}

func TestFormatHeadersRedactsCredentials(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Accept", "application/json")

	got := formatHeaders(h)
	want := `{Accept: "application/json", Authorization: "[REDACTED]"}`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
