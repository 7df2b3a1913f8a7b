package notifications

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// TokenPruner removes device tokens FCM no longer accepts.
type TokenPruner interface {
	RemoveNotificationTokens(ctx context.Context, subjectID string, tokens []string) error
}

type FCMAdapter struct {
	client *messaging.Client
	pruner TokenPruner
}

// NewFCMAdapter creates an FCM sender. pruner may be nil.
func NewFCMAdapter(ctx context.Context, app *firebase.App, pruner TokenPruner) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return &FCMAdapter{client: client, pruner: pruner}, nil
}

func (a *FCMAdapter) SendPushNotification(ctx context.Context, subjectID string, title, body string, tokens []string, data map[string]string) error {
	if len(tokens) == 0 {
		slog.Debug("No tokens for subject, skipping notification", "subject_id", subjectID)
		return nil
	}

	slog.Info("Sending push notification", "subject_id", subjectID, "token_count", len(tokens), "title", title)

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	response, err := a.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send multicast message: %w", err)
	}

	if response.FailureCount > 0 {
		slog.Warn("Some push notifications failed to send",
			"subject_id", subjectID,
			"failure_count", response.FailureCount,
			"success_count", response.SuccessCount,
		)
		a.cleanupDeadTokens(ctx, subjectID, DeadTokens(tokens, response.Responses))
	}

	return nil
}

// DeadTokens returns the tokens whose send failed with NotRegistered.
func DeadTokens(tokens []string, responses []*messaging.SendResponse) []string {
	var dead []string
	for i, resp := range responses {
		if i >= len(tokens) {
			break
		}
		if resp != nil && resp.Error != nil && messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			dead = append(dead, tokens[i])
		}
	}
	return dead
}

func (a *FCMAdapter) cleanupDeadTokens(ctx context.Context, subjectID string, dead []string) {
	if len(dead) == 0 || a.pruner == nil {
		return
	}

	slog.Info("Removing dead FCM tokens", "subject_id", subjectID, "count", len(dead))
	if err := a.pruner.RemoveNotificationTokens(ctx, subjectID, dead); err != nil {
		slog.Error("Failed to remove dead FCM tokens", "subject_id", subjectID, "error", err)
	}
}

// LogNotifier logs notifications instead of sending them, for local runs.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendPushNotification(ctx context.Context, subjectID string, title, body string, tokens []string, data map[string]string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("[LogNotifier] MOCK PUSH", "subject_id", subjectID, "title", title, "body", body, "token_count", len(tokens))
	return nil
}
