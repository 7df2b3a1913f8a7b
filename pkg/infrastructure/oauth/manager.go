package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/types"
)

// TokenSource returns a valid access token for a subject.
// It is safe for concurrent use by multiple goroutines.
type TokenSource interface {
	AccessToken(ctx context.Context, subjectID string) (string, error)
	ForceRefresh(ctx context.Context, subjectID string) (string, error)
}

// Manager reads credentials from the store and refreshes them when expired.
// Every call re-reads the record so a refresh done by another process is seen.
type Manager struct {
	store     shared.CredentialStore
	refresher Refresher
	logger    *slog.Logger

	// RefreshSkew refreshes this long before expires_at. Zero refreshes exactly
	// when now >= expires_at.
	RefreshSkew time.Duration
	// Now is the clock; tests replace it.
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store shared.CredentialStore, refresher Refresher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		logger:    logger.With("component", "token-manager"),
		Now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock serializes read-check-refresh-write per subject.
func (m *Manager) lock(subjectID string) func() {
	m.mu.Lock()
	l, ok := m.locks[subjectID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[subjectID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// AccessToken returns a currently valid access token, refreshing and
// persisting new credentials first if the stored ones are expired.
func (m *Manager) AccessToken(ctx context.Context, subjectID string) (string, error) {
	unlock := m.lock(subjectID)
	defer unlock()

	rec, err := m.load(ctx, subjectID)
	if err != nil {
		return "", err
	}

	creds := rec.Credentials()
	if creds.AccessToken != "" && !creds.Expired(m.Now(), m.RefreshSkew) {
		return creds.AccessToken, nil
	}

	m.logger.Info("Access token expired, refreshing", "subject_id", subjectID, "expires_at", creds.ExpiresAt)
	refreshed, err := m.refreshLocked(ctx, rec)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// ForceRefresh refreshes regardless of expiry. Used after the provider
// answered 401 to a token we believed valid.
func (m *Manager) ForceRefresh(ctx context.Context, subjectID string) (string, error) {
	unlock := m.lock(subjectID)
	defer unlock()

	rec, err := m.load(ctx, subjectID)
	if err != nil {
		return "", err
	}

	m.logger.Warn("Forcing token refresh", "subject_id", subjectID)
	refreshed, err := m.refreshLocked(ctx, rec)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (m *Manager) load(ctx context.Context, subjectID string) (*types.TokenRecord, error) {
	rec, err := m.store.GetToken(ctx, subjectID)
	if err != nil {
		if errors.Is(err, shared.ErrSubjectNotFound) {
			return nil, fmt.Errorf("no credentials for subject %s: %w", subjectID, err)
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return rec, nil
}

// refreshLocked must be called with the subject lock held. The store is only
// written after a successful exchange.
func (m *Manager) refreshLocked(ctx context.Context, rec *types.TokenRecord) (types.Credentials, error) {
	if rec.RefreshToken == "" {
		return types.Credentials{}, &AuthExpiredError{SubjectID: rec.SubjectID, Err: errors.New("missing refresh token")}
	}

	creds, err := m.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		var authErr *AuthExpiredError
		if errors.As(err, &authErr) {
			authErr.SubjectID = rec.SubjectID
			m.logger.Warn("Refresh rejected by provider", "subject_id", rec.SubjectID, "error", err)
			return types.Credentials{}, err
		}
		return types.Credentials{}, fmt.Errorf("refresh failed: %w", err)
	}

	// Providers that do not rotate omit refresh_token; keep the stored one.
	if creds.RefreshToken == "" {
		creds.RefreshToken = rec.RefreshToken
	}

	if err := m.store.UpdateCredentials(ctx, rec.SubjectID, creds); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to persist new tokens: %w", err)
	}

	m.logger.Info("Access token refreshed", "subject_id", rec.SubjectID, "expires_at", creds.ExpiresAt)
	return creds, nil
}
