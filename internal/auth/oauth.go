package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"golang.org/x/oauth2"
)

const (
	authURL        = "https://www.strava.com/oauth/authorize"
	tokenURL       = "https://www.strava.com/oauth/token"
	scopes         = "activity:read_all"
	requestTimeout = 30 * time.Second
)

// TokenBundle is the result of a token grant. After a refresh without a new
// refresh token, RefreshToken holds the one that was sent.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Authorization is what the one-time code exchange yields
type Authorization struct {
	TokenBundle
	AthleteID int64 `json:"athlete_id"`
}

// Provider is the OAuth server plus the HTTP client used to reach it
type Provider struct {
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
}

// Strava returns the production provider with a 30 second request timeout
func Strava() Provider {
	return Provider{
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
			// Strava wants client_id/client_secret as form fields. Pinning the
			// style also stops the library from retrying with the other one.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		HTTPClient: &http.Client{Timeout: requestTimeout},
	}
}

// Config returns an OAuth2 config for this provider
func (p Provider) Config(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{scopes},
	}
}

// AuthorizeURL builds the consent URL. approval_prompt=force makes Strava
// show the consent screen even if the athlete already granted access, so a
// fresh refresh token is always issued.
func (p Provider) AuthorizeURL(clientID, redirectURL string) string {
	return p.Config(clientID, "", redirectURL).
		AuthCodeURL("", oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// Exchange trades an authorization code for tokens and the athlete id
func (p Provider) Exchange(ctx context.Context, clientID, clientSecret, code string) (*Authorization, error) {
	config := p.Config(clientID, clientSecret, "")

	token, err := config.Exchange(p.context(ctx), code)
	if err != nil {
		return nil, classify("exchanging authorization code", err)
	}

	authz := &Authorization{TokenBundle: bundleFromToken(token)}
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		authz.AthleteID, _ = toInt64(athlete["id"])
	}
	return authz, nil
}

// Refresh exchanges a refresh token for a new access token. Nothing is cached;
// every call hits the token endpoint.
func (p Provider) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (TokenBundle, error) {
	config := p.Config(clientID, clientSecret, "")

	// An already-expired token forces the TokenSource to refresh
	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	token, err := config.TokenSource(p.context(ctx), expired).Token()
	if err != nil {
		return TokenBundle{}, classify("refreshing access token", err)
	}
	return bundleFromToken(token), nil
}

func (p Provider) context(ctx context.Context) context.Context {
	if p.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
}

// classify turns oauth2 failures into upstream errors carrying status and body
func classify(operation string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return apperr.NewUpstreamError(operation, re.Response.StatusCode, re.Body)
	}
	return apperr.WrapUpstream(operation, err)
}

// bundleFromToken prefers Strava's absolute expires_at over the library's
// expiry, which is derived from expires_in and the local clock.
func bundleFromToken(token *oauth2.Token) TokenBundle {
	bundle := TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if expiresAt, ok := toInt64(token.Extra("expires_at")); ok {
		bundle.ExpiresAt = expiresAt
	} else if !token.Expiry.IsZero() {
		bundle.ExpiresAt = token.Expiry.Unix()
	}
	return bundle
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// TokenSource yields a fresh access token on every call
type TokenSource interface {
	RefreshAccessToken(ctx context.Context) (TokenBundle, error)
}

// Refresher refreshes access tokens from the refresh token held in a store
type Refresher struct {
	provider     Provider
	clientID     string
	clientSecret string
	store        TokenStore
}

// NewRefresher creates a Refresher for one set of client credentials
func NewRefresher(provider Provider, clientID, clientSecret string, store TokenStore) *Refresher {
	return &Refresher{
		provider:     provider,
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
	}
}

// RefreshAccessToken runs the refresh_token grant. A rotated refresh token is
// handed to the store, which decides whether it survives the process.
func (r *Refresher) RefreshAccessToken(ctx context.Context) (TokenBundle, error) {
	log := logging.Logger

	refreshToken, err := r.store.RefreshToken(ctx)
	if err != nil {
		return TokenBundle{}, fmt.Errorf("loading refresh token: %w", err)
	}

	bundle, err := r.provider.Refresh(ctx, r.clientID, r.clientSecret, refreshToken)
	if err != nil {
		return TokenBundle{}, err
	}

	log.Debug().
		Str("expires_at", time.Unix(bundle.ExpiresAt, 0).Format(time.RFC3339)).
		Msg("access token refreshed")

	if bundle.RefreshToken != "" && bundle.RefreshToken != refreshToken {
		log.Info().Msg("provider rotated the refresh token")
		if err := r.store.SaveRefreshToken(ctx, bundle.RefreshToken); err != nil {
			return TokenBundle{}, fmt.Errorf("saving rotated refresh token: %w", err)
		}
	}

	return bundle, nil
}
