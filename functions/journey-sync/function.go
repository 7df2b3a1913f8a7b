package journeysync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fitglue/journey/pkg/bootstrap"
	"github.com/fitglue/journey/pkg/framework"
	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	"github.com/fitglue/journey/pkg/journey"
)

const serviceName = "journey-sync"

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("SyncJourney", SyncJourney)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		cfg, err := bootstrap.LoadConfig()
		if err != nil {
			svcErr = err
			return
		}
		svc, svcErr = bootstrap.NewService(ctx, serviceName, cfg, nil)
	})
	return svc, svcErr
}

// Runner is the part of the orchestrator the function drives.
type Runner interface {
	RunForSubject(ctx context.Context, subjectID string) (*journey.RunResult, error)
	RunForAll(ctx context.Context) (*journey.BatchResult, error)
}

// SyncJourney is the entry point. A message naming a subject syncs that
// subject; an empty message syncs every stored subject.
func SyncJourney(ctx context.Context, e cloudevents.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent(serviceName, svc, syncHandler(svc.Journey))(ctx, e)
}

func syncHandler(runner Runner) framework.HandlerFunc {
	return func(ctx context.Context, e cloudevents.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
		req, err := framework.DecodeSyncRequest(e)
		if err != nil {
			// A malformed message never succeeds on redelivery.
			fwCtx.Logger.Error("Dropping malformed sync request", "error", err)
			return map[string]interface{}{"status": "invalid_request"}, nil
		}

		if req.SubjectID != "" {
			res, err := runner.RunForSubject(ctx, req.SubjectID)
			var authErr *oauth.AuthExpiredError
			if errors.As(err, &authErr) {
				// Needs the subject to authorize again; redelivery cannot help.
				return map[string]interface{}{"status": "reauth_required", "subject_id": req.SubjectID}, nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"status":     "success",
				"subject_id": res.SubjectID,
				"annotated":  res.Annotated,
				"skipped":    res.Skipped,
				"failed":     res.Failed,
				"stage":      res.Stage,
			}, nil
		}

		batch, err := runner.RunForAll(ctx)
		if err != nil {
			return nil, err
		}
		failed := make([]string, 0, len(batch.Errors))
		for subjectID := range batch.Errors {
			failed = append(failed, subjectID)
		}
		return map[string]interface{}{
			"status":          "success",
			"succeeded":       batch.Succeeded(),
			"failed":          batch.Failed(),
			"failed_subjects": failed,
		}, nil
	}
}
