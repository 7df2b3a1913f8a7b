package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	httputil "github.com/fitglue/journey/pkg/infrastructure/http"
	"github.com/fitglue/journey/pkg/types"
)

// Refresher exchanges a refresh token for a new set of credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (types.Credentials, error)
}

// StravaEndpoint returns the Strava OAuth endpoint. Strava expects the client
// credentials in the form body rather than a Basic Auth header.
func StravaEndpoint(authURL, tokenURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuth2Refresher performs the refresh_token grant with golang.org/x/oauth2.
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuth2Refresher creates a refresher. client may be nil to use the default client.
func NewOAuth2Refresher(config *oauth2.Config, client *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{config: config, client: client}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (types.Credentials, error) {
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	// A token without an access token is never valid, so the source always
	// performs exactly one refresh_token exchange.
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return types.Credentials{}, classifyRefreshError(err)
	}

	return CredentialsFromToken(tok)
}

// CredentialsFromToken converts an oauth2 token, preferring Strava's absolute
// expires_at over the relative expires_in.
func CredentialsFromToken(tok *oauth2.Token) (types.Credentials, error) {
	if tok == nil || tok.AccessToken == "" {
		return types.Credentials{}, &AuthExpiredError{Err: errors.New("token response missing access_token")}
	}

	expiry := tok.Expiry
	if at, ok := expiresAt(tok.Extra("expires_at")); ok {
		expiry = at
	}
	if expiry.IsZero() {
		return types.Credentials{}, &AuthExpiredError{Err: errors.New("token response missing expires_at")}
	}

	return types.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry.UTC(),
	}, nil
}

func expiresAt(v interface{}) (time.Time, bool) {
	var secs int64
	switch t := v.(type) {
	case float64:
		secs = int64(t)
	case int64:
		secs = t
	case int:
		secs = int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = n
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

func classifyRefreshError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && httputil.IsTransientStatus(re.Response.StatusCode) {
			return &httputil.TransientError{Op: "refresh token", Err: err}
		}
		return &AuthExpiredError{Err: err}
	}

	if httputil.IsTransient(err) {
		return &httputil.TransientError{Op: "refresh token", Err: err}
	}

	// Anything else is an unusable response body, e.g. no access_token.
	return &AuthExpiredError{Err: fmt.Errorf("malformed token response: %w", err)}
}
