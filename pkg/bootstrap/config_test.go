package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://www.strava.com/oauth/token", cfg.StravaTokenURL)
	assert.Equal(t, "https://www.strava.com/api/v3", cfg.StravaAPIBaseURL)
	assert.Equal(t, []string{"activity:read_all", "activity:write"}, cfg.Scopes())
	assert.Equal(t, 1, cfg.AnnotationWindow)
	assert.Equal(t, "Quest to Mount Doom ⭕🌋", cfg.AnnotationSignature)
	assert.Equal(t, "Start your journey!", cfg.NotStartedLabel)
	assert.Equal(t, 1609.34, cfg.MetersPerUnit)
	assert.Equal(t, 1.609, cfg.DisplayFactor)
	assert.Equal(t, 200, cfg.ActivityPageSize)
	assert.Equal(t, 5, cfg.ActivityMaxPages)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 720*time.Hour, cfg.DeviceGrantTTL)
	assert.Equal(t, BackendSQLite, cfg.CredentialBackend)
	assert.False(t, cfg.EnablePublish)
	assert.False(t, cfg.AnnotationRefreshStale)

	start, err := cfg.StartDate()
	require.NoError(t, err)
	assert.True(t, start.IsZero())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("ANNOTATION_WINDOW", "5")
	t.Setenv("JOURNEY_START_DATE", "2024-03-01")
	t.Setenv("TOKEN_REFRESH_SKEW", "2m")
	t.Setenv("ANNOTATION_REFRESH_STALE", "true")
	t.Setenv("CREDENTIAL_BACKEND", "firestore")
	t.Setenv("STRAVA_SCOPES", " read , activity:write ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.AnnotationWindow)
	assert.Equal(t, 2*time.Minute, cfg.TokenRefreshSkew)
	assert.True(t, cfg.AnnotationRefreshStale)
	assert.Equal(t, BackendFirestore, cfg.CredentialBackend)
	assert.Equal(t, []string{"read", "activity:write"}, cfg.Scopes())

	start, err := cfg.StartDate()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", start.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero window", "ANNOTATION_WINDOW", "0"},
		{"page size too large", "ACTIVITY_PAGE_SIZE", "201"},
		{"zero max pages", "ACTIVITY_MAX_PAGES", "0"},
		{"negative meters per unit", "METERS_PER_UNIT", "-1"},
		{"zero display factor", "DISPLAY_FACTOR", "0"},
		{"negative skew", "TOKEN_REFRESH_SKEW", "-1s"},
		{"bad start date", "JOURNEY_START_DATE", "01/03/2024"},
		{"unknown backend", "CREDENTIAL_BACKEND", "postgres"},
		{"unparseable int", "ANNOTATION_WINDOW", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestOAuth2Config(t *testing.T) {
	cfg := &Config{
		StravaClientID:     "123",
		StravaClientSecret: "shh",
		StravaAuthURL:      "https://strava.test/oauth/authorize",
		StravaTokenURL:     "https://strava.test/oauth/token",
		StravaScopes:       "activity:read_all,activity:write",
		BaseURL:            "https://journey.test/",
	}

	oc := cfg.OAuth2Config()
	assert.Equal(t, "123", oc.ClientID)
	assert.Equal(t, "https://journey.test/callback", oc.RedirectURL)
	assert.Equal(t, oauth2.AuthStyleInParams, oc.Endpoint.AuthStyle)
	assert.Equal(t, "https://strava.test/oauth/token", oc.Endpoint.TokenURL)
	assert.Len(t, oc.Scopes, 2)
}
