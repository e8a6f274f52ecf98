package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/joshdurbin/strava-weekly/internal/apperr"
)

const (
	defaultTimeZone = "Europe/Amsterdam"
	defaultSMTPPort = "587"
	defaultHTTPPort = "8080"
)

// Config is everything the process reads from its environment. It is built
// once at startup and passed by value; nothing here is validated until a
// component asks for the subset it needs.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	BaseURL      string
	TimeZone     string
	TokenDBPath  string
	HTTPPort     string
	SMTP         SMTP
}

// Credentials are needed to refresh an access token and list activities
type Credentials struct {
	ClientID     string `env:"STRAVA_CLIENT_ID" validate:"required"`
	ClientSecret string `env:"STRAVA_CLIENT_SECRET" validate:"required"`
	RefreshToken string `env:"STRAVA_REFRESH_TOKEN" validate:"required"`
}

// AuthorizeApp is what the consent redirect needs
type AuthorizeApp struct {
	ClientID string `env:"STRAVA_CLIENT_ID" validate:"required"`
	BaseURL  string `env:"BASE_URL"`
}

// OAuthApp is what the code exchange needs
type OAuthApp struct {
	ClientID     string `env:"STRAVA_CLIENT_ID" validate:"required"`
	ClientSecret string `env:"STRAVA_CLIENT_SECRET" validate:"required"`
}

// SMTP holds outgoing mail settings. Port stays a string so a malformed
// value surfaces as a config error when mail is sent, not at startup.
type SMTP struct {
	Host     string `env:"SMTP_HOST" validate:"required"`
	Port     string `env:"SMTP_PORT" validate:"required,numeric"`
	User     string `env:"SMTP_USER" validate:"required"`
	Password string `env:"SMTP_PASS" validate:"required"`
	From     string `env:"FROM_EMAIL" validate:"required"`
	To       string `env:"TO_EMAIL" validate:"required"`
}

// Load reads a .env file if one exists, then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from a getenv-style lookup
func FromEnv(getenv func(string) string) Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	return Config{
		ClientID:     get("STRAVA_CLIENT_ID", ""),
		ClientSecret: get("STRAVA_CLIENT_SECRET", ""),
		RefreshToken: get("STRAVA_REFRESH_TOKEN", ""),
		BaseURL:      strings.TrimRight(get("BASE_URL", ""), "/"),
		TimeZone:     get("TZ_NAME", defaultTimeZone),
		TokenDBPath:  get("STRAVA_TOKEN_DB", ""),
		HTTPPort:     get("PORT", defaultHTTPPort),
		SMTP: SMTP{
			Host:     get("SMTP_HOST", ""),
			Port:     get("SMTP_PORT", defaultSMTPPort),
			User:     get("SMTP_USER", ""),
			Password: get("SMTP_PASS", ""),
			From:     get("FROM_EMAIL", ""),
			To:       get("TO_EMAIL", ""),
		},
	}
}

// Credentials returns the refresh credentials or a config error naming what is missing
func (c Config) Credentials() (Credentials, error) {
	creds := Credentials{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RefreshToken: c.RefreshToken,
	}
	return creds, Validate(creds)
}

// AuthorizeApp returns the settings for the consent redirect
func (c Config) AuthorizeApp() (AuthorizeApp, error) {
	app := AuthorizeApp{ClientID: c.ClientID, BaseURL: c.BaseURL}
	return app, Validate(app)
}

// OAuthApp returns the settings for the code exchange
func (c Config) OAuthApp() (OAuthApp, error) {
	app := OAuthApp{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
	return app, Validate(app)
}

// Location resolves TZ_NAME
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, apperr.NewInvalidConfigError("TZ_NAME", err)
	}
	return loc, nil
}

// Configured reports whether any mail setting was provided at all. The port
// has a default, so it does not count.
func (s SMTP) Configured() bool {
	return s.Host != "" || s.User != "" || s.Password != "" || s.From != "" || s.To != ""
}

// Missing lists the mail variables that are absent or malformed
func (s SMTP) Missing() []string {
	return fieldNames(validate.Struct(s))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by environment variable name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// Validate checks a settings struct and turns failures into a config error
// listing every offending variable.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	return apperr.NewConfigError(fieldNames(verrs)...)
}

func fieldNames(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return names
}
