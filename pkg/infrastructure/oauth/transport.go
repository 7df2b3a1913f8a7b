package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that authenticates all requests
// as one subject using the provided TokenSource.
type Transport struct {
	// Source supplies the token to be used.
	Source    TokenSource
	SubjectID string

	// Base is the base RoundTripper used to make the actual HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// 1. Get Token (expiry check happens here)
	ctx := req.Context()
	token, err := t.Source.AccessToken(ctx, t.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("oauth: cannot get token: %w", err)
	}

	// 2. Clone Request and Set Header
	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+token)

	// 3. Execute Request
	resp, err := base.RoundTrip(req2)
	if err != nil {
		return nil, err
	}

	// 4. Reactive Retry (401), only when the body can be replayed
	if resp.StatusCode == http.StatusUnauthorized && (req.Body == nil || req.GetBody != nil) {
		resp.Body.Close()

		slog.Warn("Got 401 Unauthorized, attempting force refresh", "url", req.URL.String(), "subject_id", t.SubjectID)

		token, err = t.Source.ForceRefresh(ctx, t.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("oauth: force refresh failed: %w", err)
		}

		req3 := cloneRequest(req)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("oauth: replay body: %w", err)
			}
			req3.Body = body
		}
		req3.Header.Set("Authorization", "Bearer "+token)

		return base.RoundTrip(req3)
	}

	return resp, nil
}

// cloneRequest returns a clone of the provided *http.Request.
// The clone is a shallow copy of the struct and its Header map.
func cloneRequest(r *http.Request) *http.Request {
	// shallow copy of the struct
	r2 := new(http.Request)
	*r2 = *r
	// deep copy of the Header
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}

// NewHTTPClient creates an HTTP client that authenticates as subjectID.
func NewHTTPClient(source TokenSource, subjectID string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &Transport{Source: source, SubjectID: subjectID},
		Timeout:   timeout,
	}
}
