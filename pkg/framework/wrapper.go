package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/fitglue/journey/pkg/bootstrap"
	sentryutil "github.com/fitglue/journey/pkg/infrastructure/sentry"
	"github.com/fitglue/journey/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with a per-execution logger, panic capture
// and a Sentry flush before the function returns.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) (err error) {
		base := svc.Logger
		if base == nil {
			base = slog.Default()
		}

		execID := uuid.NewString()
		logger := base.With("execution_id", execID, "event_id", e.ID())
		if req, decodeErr := DecodeSyncRequest(e); decodeErr == nil && req.SubjectID != "" {
			logger = logger.With("subject_id", req.SubjectID)
		}

		defer sentryutil.Flush(2 * time.Second)
		defer sentryutil.RecoverAndCapture(logger)

		started := time.Now()
		logger.Info("Function started", "function", serviceName, "event_type", e.Type())

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		outputs, err := handler(ctx, e, fwCtx)
		if err != nil {
			logger.Error("Function failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
			sentryutil.CaptureException(err, map[string]string{"function": serviceName, "execution_id": execID}, logger)
			return err
		}

		logger.Info("Function completed successfully", "duration_ms", time.Since(started).Milliseconds(), "outputs", outputs)
		return nil
	}
}

// DecodeSyncRequest reads the sync request carried by a Pub/Sub CloudEvent.
// A message without data decodes to the zero request, meaning every subject.
func DecodeSyncRequest(e event.Event) (types.SyncRequest, error) {
	var req types.SyncRequest
	if len(e.Data()) == 0 {
		return req, nil
	}

	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil {
		return req, fmt.Errorf("decode pubsub message: %w", err)
	}
	if len(msg.Message.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
		return req, fmt.Errorf("decode sync request: %w", err)
	}
	return req, nil
}
