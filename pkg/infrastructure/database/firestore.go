package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/fitglue/journey/pkg"
	storage "github.com/fitglue/journey/pkg/storage/firestore"
	"github.com/fitglue/journey/pkg/types"
)

// FirestoreAdapter is a CredentialStore backed by the subjects collection.
// It wraps our typed storage client
type FirestoreAdapter struct {
	storage *storage.Client // internal typed wrapper
	now     func() time.Time
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{
		storage: storage.NewClient(client),
		now:     time.Now,
	}
}

func (a *FirestoreAdapter) GetToken(ctx context.Context, subjectID string) (*types.TokenRecord, error) {
	rec, err := a.storage.Subjects().Doc(subjectID).Get(ctx)
	if err != nil {
		return nil, notFound(subjectID, err)
	}
	return rec, nil
}

func (a *FirestoreAdapter) PutToken(ctx context.Context, record *types.TokenRecord) error {
	now := a.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return a.storage.Subjects().Doc(record.SubjectID).Set(ctx, record)
}

// UpdateCredentials replaces the three token fields in one write. Firestore
// applies a single document write atomically, so a reader never observes a
// mix of old and new values.
func (a *FirestoreAdapter) UpdateCredentials(ctx context.Context, subjectID string, creds types.Credentials) error {
	var updates []firestore.Update
	for field, value := range storage.CredentialsToFirestore(creds, a.now()) {
		updates = append(updates, firestore.Update{Path: field, Value: value})
	}
	if err := a.storage.Subjects().Doc(subjectID).Update(ctx, updates); err != nil {
		return notFound(subjectID, err)
	}
	return nil
}

func (a *FirestoreAdapter) ListSubjects(ctx context.Context) ([]string, error) {
	ids, err := a.storage.Subjects().IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *FirestoreAdapter) AddNotificationToken(ctx context.Context, subjectID, token string) error {
	err := a.storage.Subjects().Doc(subjectID).Update(ctx, []firestore.Update{
		{Path: "fcm_tokens", Value: firestore.ArrayUnion(token)},
		{Path: "updated_at", Value: a.now().UTC()},
	})
	if err != nil {
		return notFound(subjectID, err)
	}
	return nil
}

// RemoveNotificationTokens drops device tokens FCM reported as unregistered.
func (a *FirestoreAdapter) RemoveNotificationTokens(ctx context.Context, subjectID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	values := make([]interface{}, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}
	return a.storage.Subjects().Doc(subjectID).Update(ctx, []firestore.Update{
		{Path: "fcm_tokens", Value: firestore.ArrayRemove(values...)},
	})
}

func notFound(subjectID string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	return err
}
