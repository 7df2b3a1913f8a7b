// Package authflow serves the Strava authorization web flow: it exchanges an
// authorization code for the first credentials of a subject, stores them and
// runs that subject's journey immediately.
package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	"github.com/fitglue/journey/pkg/journey"
	"github.com/fitglue/journey/pkg/types"
)

// Runner runs the journey for one subject.
type Runner interface {
	RunForSubject(ctx context.Context, subjectID string) (*journey.RunResult, error)
}

type Server struct {
	oauth  *oauth2.Config
	store  shared.CredentialStore
	runner Runner
	logger *slog.Logger

	// HTTPClient performs the code exchange; nil uses http.DefaultClient.
	HTTPClient *http.Client
	Now        func() time.Time

	// DeviceKey signs device registration grants. Empty disables registration.
	DeviceKey      []byte
	DeviceGrantTTL time.Duration
}

func NewServer(config *oauth2.Config, store shared.CredentialStore, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		oauth:  config,
		store:  store,
		runner: runner,
		logger: logger.With("component", "authflow"),
		Now:    time.Now,

		DeviceKey:      []byte(config.ClientSecret),
		DeviceGrantTTL: defaultDeviceGrantTTL,
	}
}

// Routes returns the HTTP handler for the auth server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Get("/authorize", s.handleAuthorize)
	r.Get("/callback", s.handleCallback)
	r.Post("/subjects/{subjectID}/devices", s.handleRegisterDevice)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, "Journey is running. Visit /authorize to connect your Strava account.")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	// Strava reads the scope list comma separated.
	url := s.oauth.AuthCodeURL("",
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
		oauth2.SetAuthURLParam("scope", strings.Join(s.oauth.Scopes, ",")),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

type callbackResponse struct {
	SubjectID   string  `json:"subject_id"`
	StartDate   string  `json:"journey_start_date"`
	Annotated   int     `json:"annotated"`
	Stage       string  `json:"stage,omitempty"`
	Miles       float64 `json:"cumulative_miles"`
	SyncError   string  `json:"sync_error,omitempty"`
	DeviceGrant string  `json:"device_grant,omitempty"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if denied := query.Get("error"); denied != "" {
		writeJSONError(w, http.StatusBadRequest, "authorization denied: "+denied)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeJSONError(w, http.StatusBadRequest, "missing code")
		return
	}

	if s.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient)
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Error("Code exchange failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	subjectID, ok := athleteID(tok)
	if !ok {
		s.logger.Error("Token response has no athlete id")
		writeJSONError(w, http.StatusBadGateway, "token response missing athlete id")
		return
	}
	creds, err := oauth.CredentialsFromToken(tok)
	if err != nil {
		s.logger.Error("Token response unusable", "error", err, "subject_id", subjectID)
		writeJSONError(w, http.StatusBadGateway, "token response incomplete")
		return
	}

	rec, err := s.save(r.Context(), subjectID, creds)
	if err != nil {
		s.logger.Error("Failed to store credentials", "error", err, "subject_id", subjectID)
		writeJSONError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	s.logger.Info("Subject authorized", "subject_id", subjectID, "journey_start_date", rec.JourneyStartDate.String())

	resp := callbackResponse{SubjectID: subjectID, StartDate: rec.JourneyStartDate.String()}
	if grant, err := s.issueDeviceGrant(subjectID); err != nil {
		s.logger.Warn("No device grant issued", "error", err, "subject_id", subjectID)
	} else {
		resp.DeviceGrant = grant
	}
	result, err := s.runner.RunForSubject(r.Context(), subjectID)
	if err != nil {
		// Authorization itself succeeded; the next scheduled run retries the sync.
		s.logger.Warn("Initial sync failed", "error", err, "subject_id", subjectID)
		resp.SyncError = err.Error()
	} else {
		resp.Annotated = result.Annotated
		resp.Stage = result.Stage
		resp.Miles = result.CumulativeMiles
	}
	writeJSON(w, http.StatusOK, resp)
}

// save replaces the credentials of subjectID. A subject that authorizes again
// keeps its journey start date and registered devices.
func (s *Server) save(ctx context.Context, subjectID string, creds types.Credentials) (*types.TokenRecord, error) {
	now := s.Now().UTC()
	rec, err := s.store.GetToken(ctx, subjectID)
	switch {
	case errors.Is(err, shared.ErrSubjectNotFound):
		rec = &types.TokenRecord{
			SubjectID:        subjectID,
			JourneyStartDate: types.DateOf(now),
			CreatedAt:        now,
		}
	case err != nil:
		return nil, fmt.Errorf("load subject: %w", err)
	}

	if rec.JourneyStartDate.IsZero() {
		rec.JourneyStartDate = types.DateOf(now)
	}
	rec.AccessToken = creds.AccessToken
	rec.RefreshToken = creds.RefreshToken
	rec.ExpiresAt = creds.ExpiresAt
	rec.UpdatedAt = now

	if err := s.store.PutToken(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	if len(s.DeviceKey) == 0 {
		writeJSONError(w, http.StatusServiceUnavailable, "device registration is disabled")
		return
	}
	if err := s.verifyDeviceGrant(r, subjectID); err != nil {
		s.logger.Warn("Rejected device registration", "error", err, "subject_id", subjectID)
		w.Header().Set("WWW-Authenticate", `Bearer realm="journey"`)
		writeJSONError(w, http.StatusUnauthorized, "valid device grant required")
		return
	}

	var req deviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeJSONError(w, http.StatusBadRequest, "body must be {\"token\": \"...\"}")
		return
	}

	err := s.store.AddNotificationToken(r.Context(), subjectID, strings.TrimSpace(req.Token))
	if errors.Is(err, shared.ErrSubjectNotFound) {
		writeJSONError(w, http.StatusNotFound, "unknown subject")
		return
	}
	if err != nil {
		s.logger.Error("Failed to register device", "error", err, "subject_id", subjectID)
		writeJSONError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// athleteID reads athlete.id from the token response.
func athleteID(tok *oauth2.Token) (string, bool) {
	athlete, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return "", false
	}
	switch id := athlete["id"].(type) {
	case float64:
		if id <= 0 {
			return "", false
		}
		return strconv.FormatInt(int64(id), 10), true
	case string:
		return id, id != ""
	}
	return "", false
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
