package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/oauth2"

	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	"github.com/fitglue/journey/pkg/types"
)

const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config holds standard configuration for all entry points.
type Config struct {
	ProjectID     string `env:"GOOGLE_CLOUD_PROJECT" envDefault:"fitglue-project"`
	EnablePublish bool   `env:"ENABLE_PUBLISH"`
	EnablePush    bool   `env:"ENABLE_PUSH"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Port          int    `env:"PORT" envDefault:"8080"`
	BaseURL       string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	StravaClientID     string `env:"STRAVA_CLIENT_ID"`
	StravaClientSecret string `env:"STRAVA_CLIENT_SECRET"`
	StravaTokenURL     string `env:"STRAVA_TOKEN_URL" envDefault:"https://www.strava.com/oauth/token"`
	StravaAuthURL      string `env:"STRAVA_AUTH_URL" envDefault:"https://www.strava.com/oauth/authorize"`
	StravaAPIBaseURL   string `env:"STRAVA_API_BASE_URL" envDefault:"https://www.strava.com/api/v3"`
	StravaScopes       string `env:"STRAVA_SCOPES" envDefault:"activity:read_all,activity:write"`

	// DeviceGrantSecret signs device registration grants; empty falls back to the client secret.
	DeviceGrantSecret string        `env:"DEVICE_GRANT_SECRET"`
	DeviceGrantTTL    time.Duration `env:"DEVICE_GRANT_TTL" envDefault:"720h"`

	JourneyStartDate       string        `env:"JOURNEY_START_DATE"`
	MilestonesSource       string        `env:"MILESTONES_SOURCE" envDefault:"milestones.csv"`
	AnnotationWindow       int           `env:"ANNOTATION_WINDOW" envDefault:"1"`
	AnnotationSignature    string        `env:"ANNOTATION_SIGNATURE" envDefault:"Quest to Mount Doom ⭕🌋"`
	NotStartedLabel        string        `env:"NOT_STARTED_LABEL" envDefault:"Start your journey!"`
	MetersPerUnit          float64       `env:"METERS_PER_UNIT" envDefault:"1609.34"`
	DisplayFactor          float64       `env:"DISPLAY_FACTOR" envDefault:"1.609"`
	AnnotationRefreshStale bool          `env:"ANNOTATION_REFRESH_STALE"`
	ActivityPageSize       int           `env:"ACTIVITY_PAGE_SIZE" envDefault:"200"`
	ActivityMaxPages       int           `env:"ACTIVITY_MAX_PAGES" envDefault:"5"`
	TokenRefreshSkew       time.Duration `env:"TOKEN_REFRESH_SKEW" envDefault:"0s"`
	HTTPTimeout            time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	CredentialBackend string `env:"CREDENTIAL_BACKEND" envDefault:"sqlite"`
	SQLitePath        string `env:"SQLITE_PATH" envDefault:"journey.db"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT"`
	SentryRelease     string `env:"SENTRY_RELEASE"`

	// OTelEndpoint enables span export when set.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig reads configuration from environment variables and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.AnnotationWindow < 1 {
		errs = append(errs, fmt.Errorf("ANNOTATION_WINDOW must be >= 1, got %d", c.AnnotationWindow))
	}
	if c.ActivityPageSize < 1 || c.ActivityPageSize > 200 {
		errs = append(errs, fmt.Errorf("ACTIVITY_PAGE_SIZE must be in 1..200, got %d", c.ActivityPageSize))
	}
	if c.ActivityMaxPages < 1 {
		errs = append(errs, fmt.Errorf("ACTIVITY_MAX_PAGES must be >= 1, got %d", c.ActivityMaxPages))
	}
	if c.MetersPerUnit <= 0 {
		errs = append(errs, fmt.Errorf("METERS_PER_UNIT must be positive, got %v", c.MetersPerUnit))
	}
	if c.DisplayFactor <= 0 {
		errs = append(errs, fmt.Errorf("DISPLAY_FACTOR must be positive, got %v", c.DisplayFactor))
	}
	if c.TokenRefreshSkew < 0 {
		errs = append(errs, errors.New("TOKEN_REFRESH_SKEW must not be negative"))
	}
	if _, err := c.StartDate(); err != nil {
		errs = append(errs, err)
	}
	switch c.CredentialBackend {
	case BackendSQLite, BackendFirestore:
	default:
		errs = append(errs, fmt.Errorf("CREDENTIAL_BACKEND must be %q or %q, got %q", BackendSQLite, BackendFirestore, c.CredentialBackend))
	}
	return errors.Join(errs...)
}

// StartDate returns the fallback journey start date. Zero when unset.
func (c *Config) StartDate() (types.Date, error) {
	if c.JourneyStartDate == "" {
		return types.Date{}, nil
	}
	d, err := types.ParseDate(c.JourneyStartDate)
	if err != nil {
		return types.Date{}, fmt.Errorf("JOURNEY_START_DATE: %w", err)
	}
	return d, nil
}

func (c *Config) Scopes() []string {
	var scopes []string
	for _, s := range strings.Split(c.StravaScopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// OAuth2Config is shared by the authorization flow and the token refresher.
func (c *Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.StravaClientID,
		ClientSecret: c.StravaClientSecret,
		Endpoint:     oauth.StravaEndpoint(c.StravaAuthURL, c.StravaTokenURL),
		RedirectURL:  strings.TrimRight(c.BaseURL, "/") + "/callback",
		Scopes:       c.Scopes(),
	}
}
