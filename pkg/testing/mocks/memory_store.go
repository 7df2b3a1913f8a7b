package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/types"
)

// MemoryCredentialStore is an in-memory CredentialStore that counts writes.
type MemoryCredentialStore struct {
	mu      sync.Mutex
	records map[string]types.TokenRecord

	Updates int
	Puts    int
}

func NewMemoryCredentialStore(records ...types.TokenRecord) *MemoryCredentialStore {
	s := &MemoryCredentialStore{records: make(map[string]types.TokenRecord)}
	for _, r := range records {
		s.records[r.SubjectID] = r
	}
	return s
}

func (s *MemoryCredentialStore) GetToken(ctx context.Context, subjectID string) (*types.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	rec.NotificationTokens = append([]string(nil), rec.NotificationTokens...)
	return &rec, nil
}

func (s *MemoryCredentialStore) PutToken(ctx context.Context, record *types.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.SubjectID] = *record
	s.Puts++
	return nil
}

func (s *MemoryCredentialStore) UpdateCredentials(ctx context.Context, subjectID string, creds types.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	rec.AccessToken = creds.AccessToken
	rec.RefreshToken = creds.RefreshToken
	rec.ExpiresAt = creds.ExpiresAt
	s.records[subjectID] = rec
	s.Updates++
	return nil
}

func (s *MemoryCredentialStore) ListSubjects(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryCredentialStore) AddNotificationToken(ctx context.Context, subjectID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	for _, t := range rec.NotificationTokens {
		if t == token {
			return nil
		}
	}
	rec.NotificationTokens = append(rec.NotificationTokens, token)
	s.records[subjectID] = rec
	return nil
}

// Record returns a copy of the stored record, for assertions.
func (s *MemoryCredentialStore) Record(subjectID string) (types.TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subjectID]
	return rec, ok
}
