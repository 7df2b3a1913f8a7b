package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	httputil "github.com/fitglue/journey/pkg/infrastructure/http"
)

func newTokenServer(t *testing.T, status int, body string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "191002", r.PostForm.Get("client_id"))
		assert.Equal(t, "shh", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestRefresher(srv *httptest.Server) *OAuth2Refresher {
	cfg := &oauth2.Config{
		ClientID:     "191002",
		ClientSecret: "shh",
		Endpoint:     StravaEndpoint(srv.URL+"/oauth/authorize", srv.URL+"/oauth/token"),
	}
	return NewOAuth2Refresher(cfg, srv.Client())
}

func TestOAuth2Refresher_Success(t *testing.T) {
	calls := 0
	srv := newTokenServer(t, http.StatusOK,
		`{"token_type":"Bearer","access_token":"new-access","refresh_token":"new-refresh","expires_at":1893456000,"expires_in":21600}`, &calls)
	defer srv.Close()

	creds, err := newTestRefresher(srv).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
	assert.Equal(t, time.Unix(1893456000, 0).UTC(), creds.ExpiresAt)
}

func TestOAuth2Refresher_ExpiresInFallback(t *testing.T) {
	calls := 0
	srv := newTokenServer(t, http.StatusOK,
		`{"token_type":"Bearer","access_token":"new-access","expires_in":3600}`, &calls)
	defer srv.Close()

	before := time.Now()
	creds, err := newTestRefresher(srv).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(time.Hour), creds.ExpiresAt, time.Minute)
}

func TestOAuth2Refresher_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantAuth      bool
		wantTransient bool
	}{
		{
			name:     "revoked refresh token",
			status:   http.StatusBadRequest,
			body:     `{"message":"Bad Request","errors":[{"resource":"RefreshToken","field":"refresh_token","code":"invalid"}]}`,
			wantAuth: true,
		},
		{
			name:     "unauthorized client",
			status:   http.StatusUnauthorized,
			body:     `{"message":"Authorization Error"}`,
			wantAuth: true,
		},
		{
			name:     "missing access_token",
			status:   http.StatusOK,
			body:     `{"message":"something odd"}`,
			wantAuth: true,
		},
		{
			name:     "missing expiry",
			status:   http.StatusOK,
			body:     `{"access_token":"a","refresh_token":"b"}`,
			wantAuth: true,
		},
		{
			name:          "provider outage",
			status:        http.StatusServiceUnavailable,
			body:          `{"message":"down"}`,
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := newTokenServer(t, tt.status, tt.body, &calls)
			defer srv.Close()

			_, err := newTestRefresher(srv).Refresh(context.Background(), "old-refresh")
			require.Error(t, err)
			assert.Equal(t, 1, calls)

			var authErr *AuthExpiredError
			assert.Equal(t, tt.wantAuth, errors.As(err, &authErr), "auth expired: %v", err)
			assert.Equal(t, tt.wantTransient, httputil.IsTransient(err), "transient: %v", err)
		})
	}
}

func TestOAuth2Refresher_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	refresher := newTestRefresher(srv)
	srv.Close()

	_, err := refresher.Refresh(context.Background(), "old-refresh")
	require.Error(t, err)
	assert.True(t, httputil.IsTransient(err))
}

func TestCredentialsFromToken_ExpiresAtVariants(t *testing.T) {
	base := &oauth2.Token{AccessToken: "a", RefreshToken: "r"}

	for _, v := range []interface{}{float64(1700000000), "1700000000", int64(1700000000)} {
		tok := base.WithExtra(map[string]interface{}{"expires_at": v})
		creds, err := CredentialsFromToken(tok)
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), creds.ExpiresAt.Unix())
	}
}
