// Package journey runs the sync for one subject or all of them: fetch
// activities, fold progress, and annotate the most recent ones.
package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/annotation"
	httputil "github.com/fitglue/journey/pkg/infrastructure/http"
	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	"github.com/fitglue/journey/pkg/infrastructure/pubsub"
	sentryutil "github.com/fitglue/journey/pkg/infrastructure/sentry"
	"github.com/fitglue/journey/pkg/integrations/strava"
	"github.com/fitglue/journey/pkg/progress"
	"github.com/fitglue/journey/pkg/types"
)

const tracerName = "github.com/fitglue/journey/pkg/journey"

// ActivityAPI is the provider surface the orchestrator needs.
type ActivityAPI interface {
	ListAllActivities(ctx context.Context, after time.Time, perPage, maxPages int) ([]types.Activity, error)
	GetActivity(ctx context.Context, activityID int64) (*strava.Activity, error)
	UpdateDescription(ctx context.Context, activityID int64, description string) error
}

// ClientFactory builds a provider client authenticated as subjectID.
type ClientFactory func(subjectID string) ActivityAPI

// MilestoneSource loads the milestone table.
type MilestoneSource interface {
	Load(ctx context.Context, source string) ([]types.MilestoneEntry, error)
}

// StravaClientFactory returns a factory whose clients authenticate through tokens.
func StravaClientFactory(baseURL string, tokens oauth.TokenSource, timeout time.Duration, logger *slog.Logger) ClientFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(subjectID string) ActivityAPI {
		c := strava.NewClient(baseURL, oauth.NewHTTPClient(tokens, subjectID, timeout))
		c.Logger = logger.With("component", "strava", "subject_id", subjectID)
		return c
	}
}

type Config struct {
	MilestonesSource string
	// FallbackStartDate is used for subjects whose record carries no start date.
	FallbackStartDate types.Date
	// Window is how many of the most recent qualifying activities are candidates.
	Window   int
	PageSize int
	MaxPages int
	// FetchAttempts bounds activity-list attempts on transient failures.
	FetchAttempts      int
	RetryInitialDelay  time.Duration
	AuthorizeURL       string
	AnnotatedTopic     string
	ReauthNotification bool
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 1
	}
	if c.PageSize <= 0 {
		c.PageSize = strava.MaxPageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = 500 * time.Millisecond
	}
	if c.AnnotatedTopic == "" {
		c.AnnotatedTopic = shared.TopicJourneyAnnotated
	}
	return c
}

// RunResult summarizes one subject run.
type RunResult struct {
	RunID           string
	SubjectID       string
	StartDate       types.Date
	Fetched         int
	Qualifying      int
	Candidates      int
	Annotated       int
	Skipped         int
	Failed          int
	Stage           string
	CumulativeMiles float64
	Failures        []*ActivityWriteError
}

// BatchResult aggregates RunForAll. Errors holds subjects whose run aborted.
type BatchResult struct {
	Results []*RunResult
	Errors  map[string]error
}

func (b *BatchResult) Succeeded() int { return len(b.Results) }
func (b *BatchResult) Failed() int    { return len(b.Errors) }

type Orchestrator struct {
	store      shared.CredentialStore
	tokens     oauth.TokenSource
	milestones MilestoneSource
	clients    ClientFactory
	engine     *progress.Engine
	guard      *annotation.Guard
	publisher  shared.Publisher
	notifier   shared.NotificationService
	logger     *slog.Logger
	cfg        Config
	tracer     trace.Tracer

	// NewRunID generates run ids; tests replace it.
	NewRunID func() string
}

// Deps groups the collaborators of an Orchestrator. Publisher and Notifier may be nil.
type Deps struct {
	Store      shared.CredentialStore
	Tokens     oauth.TokenSource
	Milestones MilestoneSource
	Clients    ClientFactory
	Engine     *progress.Engine
	Guard      *annotation.Guard
	Publisher  shared.Publisher
	Notifier   shared.NotificationService
	Logger     *slog.Logger
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      deps.Store,
		tokens:     deps.Tokens,
		milestones: deps.Milestones,
		clients:    deps.Clients,
		engine:     deps.Engine,
		guard:      deps.Guard,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		logger:     logger.With("component", "orchestrator"),
		cfg:        cfg.withDefaults(),
		tracer:     otel.Tracer(tracerName),
		NewRunID:   uuid.NewString,
	}
}

// RunForSubject syncs one subject. Token, record, milestone and fetch
// failures abort the run; per-activity failures are counted in the result.
func (o *Orchestrator) RunForSubject(ctx context.Context, subjectID string) (*RunResult, error) {
	table, err := o.milestones.Load(ctx, o.cfg.MilestonesSource)
	if err != nil {
		return nil, fmt.Errorf("load milestones: %w", err)
	}
	return o.run(ctx, subjectID, table)
}

// RunForAll syncs every stored subject sequentially. A failing subject never
// stops the others.
func (o *Orchestrator) RunForAll(ctx context.Context) (*BatchResult, error) {
	subjects, err := o.store.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	table, err := o.milestones.Load(ctx, o.cfg.MilestonesSource)
	if err != nil {
		return nil, fmt.Errorf("load milestones: %w", err)
	}

	batch := &BatchResult{Errors: make(map[string]error)}
	for _, subjectID := range subjects {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		res, err := o.run(ctx, subjectID, table)
		if err != nil {
			batch.Errors[subjectID] = err
			continue
		}
		batch.Results = append(batch.Results, res)
	}

	o.logger.Info("Batch complete", "subjects", len(subjects), "succeeded", batch.Succeeded(), "failed", batch.Failed())
	return batch, nil
}

func (o *Orchestrator) run(ctx context.Context, subjectID string, table []types.MilestoneEntry) (res *RunResult, err error) {
	runID := o.NewRunID()
	logger := o.logger.With("run_id", runID, "subject_id", subjectID)

	ctx, span := o.tracer.Start(ctx, "journey.run", trace.WithAttributes(
		attribute.String("journey.subject_id", subjectID),
		attribute.String("journey.run_id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if res != nil {
			span.SetAttributes(
				attribute.Int("journey.annotated", res.Annotated),
				attribute.Int("journey.failed", res.Failed),
			)
		}
		span.End()
	}()

	res = &RunResult{RunID: runID, SubjectID: subjectID}

	if _, err := o.tokens.AccessToken(ctx, subjectID); err != nil {
		return nil, o.abort(ctx, logger, subjectID, err)
	}

	rec, err := o.store.GetToken(ctx, subjectID)
	if err != nil {
		return nil, o.abort(ctx, logger, subjectID, fmt.Errorf("read subject record: %w", err))
	}
	start := rec.JourneyStartDate
	if start.IsZero() {
		start = o.cfg.FallbackStartDate
	}
	if start.IsZero() {
		return nil, o.abort(ctx, logger, subjectID, fmt.Errorf("subject %s has no journey start date", subjectID))
	}
	res.StartDate = start

	client := o.clients(subjectID)
	activities, err := o.fetch(ctx, logger, client, start)
	if err != nil {
		return nil, o.abort(ctx, logger, subjectID, err)
	}
	res.Fetched = len(activities)
	if len(activities) == 0 {
		logger.Info("No activities since journey start", "start_date", start.String())
		return res, nil
	}

	steps := o.engine.Compute(activities, table, start)
	total := o.engine.Total(steps, table)
	res.Qualifying = len(steps)
	res.Stage = total.Stage
	res.CumulativeMiles = total.CumulativeMiles

	candidates := annotation.Window(steps, o.cfg.Window)
	res.Candidates = len(candidates)

	for _, step := range candidates {
		written, err := o.annotate(ctx, logger, client, step, start)
		if err != nil {
			var authErr *oauth.AuthExpiredError
			if errors.As(err, &authErr) {
				return nil, o.abort(ctx, logger, subjectID, err)
			}
			writeErr := &ActivityWriteError{ActivityID: step.Activity.ID, Err: err}
			res.Failed++
			res.Failures = append(res.Failures, writeErr)
			logger.Error("Failed to annotate activity", "activity_id", step.Activity.ID, "error", err)
			sentryutil.CaptureException(writeErr, map[string]string{
				"subject_id":  subjectID,
				"run_id":      runID,
				"activity_id": fmt.Sprint(step.Activity.ID),
			}, logger)
			continue
		}
		if !written {
			res.Skipped++
			continue
		}
		res.Annotated++
		o.publishAnnotated(ctx, logger, subjectID, runID, step)
	}

	logger.Info("Run complete",
		"fetched", res.Fetched,
		"qualifying", res.Qualifying,
		"annotated", res.Annotated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"stage", res.Stage,
		"cumulative_miles", res.CumulativeMiles,
	)
	return res, nil
}

// fetch lists activities from the day before start, retrying transient failures.
func (o *Orchestrator) fetch(ctx context.Context, logger *slog.Logger, client ActivityAPI, start types.Date) ([]types.Activity, error) {
	after := start.Time().AddDate(0, 0, -1)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.RetryInitialDelay

	attempt := 0
	activities, err := backoff.Retry(ctx, func() ([]types.Activity, error) {
		attempt++
		acts, err := client.ListAllActivities(ctx, after, o.cfg.PageSize, o.cfg.MaxPages)
		if err == nil {
			return acts, nil
		}
		if !httputil.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		logger.Warn("Transient failure listing activities", "attempt", attempt, "error", err)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(o.cfg.FetchAttempts)))
	if err != nil {
		var limit *strava.PageLimitError
		if errors.As(err, &limit) {
			// A partial history would undercount and annotate a stale activity.
			logger.Warn("Activity history exceeds the page limit; nothing annotated",
				"max_pages", limit.MaxPages, "page_size", limit.PerPage)
		}
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	return activities, nil
}

// annotate reads the current description, decides, and writes. It reports
// whether a write happened.
func (o *Orchestrator) annotate(ctx context.Context, logger *slog.Logger, client ActivityAPI, step progress.Step, start types.Date) (bool, error) {
	activity := step.Activity

	detail, err := client.GetActivity(ctx, activity.ID)
	if err != nil {
		return false, fmt.Errorf("read activity: %w", err)
	}
	if detail.Description != nil {
		activity.Description = *detail.Description
	}

	text := o.guard.Render(step.State, start)
	updated, write := o.guard.Decide(activity, text)
	if !write {
		logger.Debug("Activity already annotated", "activity_id", activity.ID)
		return false, nil
	}

	if err := client.UpdateDescription(ctx, activity.ID, updated); err != nil {
		return false, fmt.Errorf("update description: %w", err)
	}
	logger.Info("Annotated activity", "activity_id", activity.ID, "activity_name", activity.Name, "stage", step.State.Stage)
	return true, nil
}

func (o *Orchestrator) publishAnnotated(ctx context.Context, logger *slog.Logger, subjectID, runID string, step progress.Step) {
	if o.publisher == nil {
		return
	}
	e, err := pubsub.NewCloudEvent(shared.EventSourceOrchestrator, shared.EventTypeActivityAnnotated, types.ActivityAnnotatedEvent{
		SubjectID:       subjectID,
		ActivityID:      step.Activity.ID,
		Stage:           step.State.Stage,
		CumulativeMiles: step.State.CumulativeMiles,
		RunID:           runID,
	})
	if err != nil {
		logger.Error("Failed to build annotated event", "error", err)
		return
	}
	if _, err := o.publisher.PublishCloudEvent(ctx, o.cfg.AnnotatedTopic, e); err != nil {
		logger.Error("Failed to publish annotated event", "activity_id", step.Activity.ID, "error", err)
	}
}

// abort logs why a subject run stopped, notifies the subject when
// re-authorization is required, and returns err unchanged.
func (o *Orchestrator) abort(ctx context.Context, logger *slog.Logger, subjectID string, err error) error {
	var authErr *oauth.AuthExpiredError
	if !errors.As(err, &authErr) {
		logger.Error("Subject run aborted", "error", err)
		return err
	}

	logger.Warn("Re-authorization required", "error", err)
	sentryutil.CaptureMessage("re-authorization required", sentry.LevelWarning, map[string]string{"subject_id": subjectID}, logger)

	if o.notifier == nil || !o.cfg.ReauthNotification {
		return err
	}
	rec, getErr := o.store.GetToken(ctx, subjectID)
	if getErr != nil {
		logger.Warn("Cannot load devices for re-auth notification", "error", getErr)
		return err
	}
	data := map[string]string{"type": "reauth_required", "subject_id": subjectID}
	if o.cfg.AuthorizeURL != "" {
		data["authorize_url"] = o.cfg.AuthorizeURL
	}
	if notifyErr := o.notifier.SendPushNotification(ctx, subjectID,
		"Reconnect Strava",
		"Your journey can't be updated until you authorize again.",
		rec.NotificationTokens, data,
	); notifyErr != nil {
		logger.Error("Failed to send re-auth notification", "error", notifyErr)
	}
	return err
}
