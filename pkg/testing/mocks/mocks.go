package mocks

import (
	"context"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/types"
)

// --- Mock Credential Store ---
type MockCredentialStore struct {
	GetTokenFunc             func(ctx context.Context, subjectID string) (*types.TokenRecord, error)
	PutTokenFunc             func(ctx context.Context, record *types.TokenRecord) error
	UpdateCredentialsFunc    func(ctx context.Context, subjectID string, creds types.Credentials) error
	ListSubjectsFunc         func(ctx context.Context) ([]string, error)
	AddNotificationTokenFunc func(ctx context.Context, subjectID, token string) error
}

func (m *MockCredentialStore) GetToken(ctx context.Context, subjectID string) (*types.TokenRecord, error) {
	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx, subjectID)
	}
	return nil, fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
}
func (m *MockCredentialStore) PutToken(ctx context.Context, record *types.TokenRecord) error {
	if m.PutTokenFunc != nil {
		return m.PutTokenFunc(ctx, record)
	}
	return nil
}
func (m *MockCredentialStore) UpdateCredentials(ctx context.Context, subjectID string, creds types.Credentials) error {
	if m.UpdateCredentialsFunc != nil {
		return m.UpdateCredentialsFunc(ctx, subjectID, creds)
	}
	return nil
}
func (m *MockCredentialStore) ListSubjects(ctx context.Context) ([]string, error) {
	if m.ListSubjectsFunc != nil {
		return m.ListSubjectsFunc(ctx)
	}
	return nil, nil
}
func (m *MockCredentialStore) AddNotificationToken(ctx context.Context, subjectID, token string) error {
	if m.AddNotificationTokenFunc != nil {
		return m.AddNotificationTokenFunc(ctx, subjectID, token)
	}
	return nil
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Storage ---
type MockBlobStore struct {
	ReadFunc func(ctx context.Context, bucket, object string) ([]byte, error)
}

func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return []byte("mock-data"), nil
}

// --- Mock Notifications ---
type MockNotificationService struct {
	SendPushNotificationFunc func(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}

func (m *MockNotificationService) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if m.SendPushNotificationFunc != nil {
		return m.SendPushNotificationFunc(ctx, userID, title, body, tokens, data)
	}
	return nil
}
