package shared

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/fitglue/journey/pkg/types"
)

// ErrSubjectNotFound is returned by a CredentialStore for an unknown subject.
var ErrSubjectNotFound = errors.New("subject not found")

// --- Persistence Interfaces ---

// CredentialStore persists exactly one TokenRecord per subject.
type CredentialStore interface {
	GetToken(ctx context.Context, subjectID string) (*types.TokenRecord, error)
	// PutToken creates or replaces the whole record (first authorization).
	PutToken(ctx context.Context, record *types.TokenRecord) error
	// UpdateCredentials atomically replaces access token, refresh token and expiry.
	UpdateCredentials(ctx context.Context, subjectID string, creds types.Credentials) error
	ListSubjects(ctx context.Context) ([]string, error)
	AddNotificationToken(ctx context.Context, subjectID, token string) error
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

// BlobStore reads milestone tables kept in object storage.
type BlobStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}
