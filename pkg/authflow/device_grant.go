package authflow

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	deviceGrantAudience   = "journey-devices"
	defaultDeviceGrantTTL = 30 * 24 * time.Hour
)

var errNoDeviceKey = errors.New("device grants are not configured")

// issueDeviceGrant signs a bearer grant that lets the holder register push
// devices for subjectID. It is handed out once the subject proves control of
// the Strava account at /callback.
func (s *Server) issueDeviceGrant(subjectID string) (string, error) {
	if len(s.DeviceKey) == 0 {
		return "", errNoDeviceKey
	}
	ttl := s.DeviceGrantTTL
	if ttl <= 0 {
		ttl = defaultDeviceGrantTTL
	}
	now := s.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subjectID,
		Audience:  jwt.ClaimStrings{deviceGrantAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.DeviceKey)
}

// verifyDeviceGrant checks the Authorization header of r against subjectID.
func (s *Server) verifyDeviceGrant(r *http.Request, subjectID string) error {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return errors.New("missing bearer grant")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.DeviceKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(deviceGrantAudience),
		jwt.WithSubject(subjectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	return err
}
