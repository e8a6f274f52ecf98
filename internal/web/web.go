// Package web is the HTTP front door: a status page, a health check and the
// one-time OAuth connect flow that yields the refresh token for the weekly job.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/joshdurbin/strava-weekly/internal/auth"
	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const indexText = `Strava weekly report is running.

1) Go to /auth to connect Strava.
2) After connecting, copy STRAVA_REFRESH_TOKEN into your host env vars.
3) Schedule strava-weekly to run once a week (cron).
`

// OAuth is the part of the provider the connect flow needs
type OAuth interface {
	AuthorizeURL(clientID, redirectURL string) string
	Exchange(ctx context.Context, clientID, clientSecret, code string) (*auth.Authorization, error)
}

// Option configures the server
type Option func(*echo.Echo)

// WithMCP mounts an MCP handler at /mcp
func WithMCP(h http.Handler) Option {
	return func(e *echo.Echo) {
		e.Any("/mcp", echo.WrapHandler(h))
	}
}

type handlers struct {
	cfg   config.Config
	oauth OAuth
}

// New builds the echo server with logging and recover middleware
func New(cfg config.Config, oauth OAuth, opts ...Option) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// Never log the query: /callback carries the authorization code
			path := v.URI
			if i := strings.IndexByte(path, '?'); i >= 0 {
				path = path[:i]
			}
			event := logging.Logger.Info()
			if v.Error != nil {
				event = logging.Logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("path", path).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("request completed")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := &handlers{cfg: cfg, oauth: oauth}
	e.GET("/", h.index)
	e.GET("/health", h.health)
	e.GET("/auth", h.authorize)
	e.GET("/callback", h.callback)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (h *handlers) index(c echo.Context) error {
	return c.String(http.StatusOK, indexText)
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// authorize redirects to the consent screen. The callback URL comes from
// BASE_URL, or from the request when BASE_URL is unset.
func (h *handlers) authorize(c echo.Context) error {
	app, err := h.cfg.AuthorizeApp()
	if err != nil {
		return configError(c, err)
	}

	base := app.BaseURL
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}

	return c.Redirect(http.StatusFound, h.oauth.AuthorizeURL(app.ClientID, base+"/callback"))
}

// callback exchanges the one-time code and shows the refresh token to copy
// into the job's environment. Nothing is stored.
func (h *handlers) callback(c echo.Context) error {
	log := logging.Logger

	app, err := h.cfg.OAuthApp()
	if err != nil {
		return configError(c, err)
	}

	if oauthErr := c.QueryParam("error"); oauthErr != "" {
		return c.String(http.StatusBadRequest, fmt.Sprintf("OAuth error: %s\n", oauthErr))
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.String(http.StatusBadRequest, "Missing ?code=\n")
	}

	authz, err := h.oauth.Exchange(c.Request().Context(), app.ClientID, app.ClientSecret, code)
	if err != nil {
		log.Warn().Err(err).Msg("code exchange failed")
		return c.String(http.StatusBadGateway, fmt.Sprintf("Token exchange failed: %v\n", err))
	}

	log.Info().Int64("athlete_id", authz.AthleteID).Msg("athlete connected")

	var sb strings.Builder
	sb.WriteString("Strava connected.\n")
	sb.WriteString("Set these environment variables on your host:\n")
	fmt.Fprintf(&sb, "STRAVA_REFRESH_TOKEN=%s\n", authz.RefreshToken)
	fmt.Fprintf(&sb, "STRAVA_ATHLETE_ID=%d\n\n", authz.AthleteID)
	sb.WriteString("Keep your client secret private.\n")
	fmt.Fprintf(&sb, "(access_token expires_at=%d)\n", authz.ExpiresAt)
	if authz.AccessToken != "" {
		sb.WriteString("\nAll set. You can close this tab.\n")
	}

	return c.String(http.StatusOK, sb.String())
}

func configError(c echo.Context, err error) error {
	logging.Logger.Error().Err(err).Str("path", c.Path()).Msg("configuration error")
	return c.String(http.StatusInternalServerError, fmt.Sprintf("Configuration error: %v\n", err))
}
