package journey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitglue/journey/pkg/annotation"
	httputil "github.com/fitglue/journey/pkg/infrastructure/http"
	"github.com/fitglue/journey/pkg/infrastructure/oauth"
	"github.com/fitglue/journey/pkg/integrations/strava"
	"github.com/fitglue/journey/pkg/progress"
	"github.com/fitglue/journey/pkg/testing/mocks"
	"github.com/fitglue/journey/pkg/types"
)

var (
	startDate = types.Date{Year: 2025, Month: time.December, Day: 19}
	tolkien   = []types.MilestoneEntry{
		{Threshold: 0, Label: "The Shire"},
		{Threshold: 100, Label: "Rivendell"},
		{Threshold: 500, Label: "Mordor"},
	}
)

type fakeTokens struct {
	errs map[string]error
}

func (f *fakeTokens) AccessToken(ctx context.Context, subjectID string) (string, error) {
	if err := f.errs[subjectID]; err != nil {
		return "", err
	}
	return "token-" + subjectID, nil
}

func (f *fakeTokens) ForceRefresh(ctx context.Context, subjectID string) (string, error) {
	return f.AccessToken(ctx, subjectID)
}

type staticMilestones struct {
	entries []types.MilestoneEntry
	err     error
}

func (s staticMilestones) Load(ctx context.Context, source string) ([]types.MilestoneEntry, error) {
	return s.entries, s.err
}

// fakeStrava is an in-memory provider account.
type fakeStrava struct {
	mu           sync.Mutex
	activities   []types.Activity
	descriptions map[int64]string
	listErrs     []error
	listCalls    int
	lastAfter    time.Time
	updateErrs   map[int64]error
	updates      map[int64]string
}

func newFakeStrava(activities ...types.Activity) *fakeStrava {
	return &fakeStrava{
		activities:   activities,
		descriptions: make(map[int64]string),
		updateErrs:   make(map[int64]error),
		updates:      make(map[int64]string),
	}
}

func (f *fakeStrava) ListAllActivities(ctx context.Context, after time.Time, perPage, maxPages int) ([]types.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastAfter = after
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]types.Activity(nil), f.activities...), nil
}

func (f *fakeStrava) GetActivity(ctx context.Context, activityID int64) (*strava.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &strava.Activity{ID: activityID}
	if d, ok := f.descriptions[activityID]; ok {
		a.Description = &d
	}
	return a, nil
}

func (f *fakeStrava) UpdateDescription(ctx context.Context, activityID int64, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErrs[activityID]; err != nil {
		return err
	}
	f.updates[activityID] = description
	f.descriptions[activityID] = description
	return nil
}

func run(id int64, d int, meters float64) types.Activity {
	return types.Activity{
		ID:         id,
		Name:       fmt.Sprintf("Run %d", id),
		StartLocal: time.Date(2025, 12, 18+d, 7, 0, 0, 0, time.UTC),
		Distance:   meters,
	}
}

type harness struct {
	orch      *Orchestrator
	store     *mocks.MemoryCredentialStore
	api       *fakeStrava
	tokens    *fakeTokens
	published []event.Event
	pushes    []string
}

func newHarness(t *testing.T, cfg Config, api *fakeStrava, records ...types.TokenRecord) *harness {
	t.Helper()
	if len(records) == 0 {
		records = []types.TokenRecord{{SubjectID: "2268957", JourneyStartDate: startDate, NotificationTokens: []string{"device-1"}}}
	}
	h := &harness{
		store:  mocks.NewMemoryCredentialStore(records...),
		api:    api,
		tokens: &fakeTokens{errs: map[string]error{}},
	}
	publisher := &mocks.MockPublisher{
		PublishCloudEventFunc: func(ctx context.Context, topic string, e event.Event) (string, error) {
			assert.Equal(t, "topic-journey-annotated", topic)
			h.published = append(h.published, e)
			return "id", nil
		},
	}
	notifier := &mocks.MockNotificationService{
		SendPushNotificationFunc: func(ctx context.Context, userID, title, body string, tokens []string, data map[string]string) error {
			assert.Equal(t, "reauth_required", data["type"])
			h.pushes = append(h.pushes, tokens...)
			return nil
		},
	}
	cfg.RetryInitialDelay = time.Millisecond

	h.orch = NewOrchestrator(Deps{
		Store:      h.store,
		Tokens:     h.tokens,
		Milestones: staticMilestones{entries: tolkien},
		Clients:    func(string) ActivityAPI { return api },
		Engine:     progress.NewEngine(progress.MetersPerMile, "Start your journey!"),
		Guard:      annotation.NewGuard(annotation.Options{}),
		Publisher:  publisher,
		Notifier:   notifier,
	}, cfg)
	h.orch.NewRunID = func() string { return "run-1" }
	return h
}

func TestRunForSubject_AnnotatesLatestActivity(t *testing.T) {
	api := newFakeStrava(run(3, 3, 30000), run(1, 1, 40000), run(2, 2, 70000))
	api.descriptions[3] = "Cold one"
	h := newHarness(t, Config{}, api)

	res, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.Qualifying)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Annotated)
	assert.Equal(t, "The Shire", res.Stage)
	assert.InDelta(t, 86.992, res.CumulativeMiles, 0.001)

	require.Len(t, api.updates, 1)
	assert.Equal(t, "Cold one\n\n"+
		"Quest to Mount Doom ⭕🌋\n"+
		"Reached: The Shire\n"+
		"Total Journey: 87.0 mi (140.0 km)\n"+
		"Start Date: 2025-12-19", api.updates[3])

	assert.Equal(t, time.Date(2025, 12, 18, 0, 0, 0, 0, time.UTC), api.lastAfter)

	require.Len(t, h.published, 1)
	var payload types.ActivityAnnotatedEvent
	require.NoError(t, h.published[0].DataAs(&payload))
	assert.Equal(t, int64(3), payload.ActivityID)
	assert.Equal(t, "run-1", payload.RunID)
}

func TestRunForSubject_Idempotent(t *testing.T) {
	api := newFakeStrava(run(1, 1, 40000))
	h := newHarness(t, Config{}, api)

	first, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Annotated)

	delete(api.updates, 1)
	second, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Annotated)
	assert.Equal(t, 1, second.Skipped)
	assert.Empty(t, api.updates)
	assert.Len(t, h.published, 1)
}

func TestRunForSubject_WindowIsolatesWriteFailures(t *testing.T) {
	var acts []types.Activity
	for i := 1; i <= 12; i++ {
		acts = append(acts, run(int64(i), i, 5000))
	}
	api := newFakeStrava(acts...)
	api.updateErrs[10] = &httputil.HTTPError{StatusCode: 404, Status: "Not Found"}
	h := newHarness(t, Config{Window: 5}, api)

	res, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Candidates)
	assert.Equal(t, 4, res.Annotated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(10), res.Failures[0].ActivityID)

	for id := int64(1); id <= 7; id++ {
		assert.NotContains(t, api.updates, id)
	}
	for _, id := range []int64{8, 9, 11, 12} {
		assert.Contains(t, api.updates, id)
	}
}

func TestRunForSubject_RetriesTransientFetch(t *testing.T) {
	api := newFakeStrava(run(1, 1, 1000))
	api.listErrs = []error{
		&httputil.TransientError{Op: "GET /athlete/activities", Err: errors.New("502")},
		&httputil.HTTPError{StatusCode: 503},
	}
	h := newHarness(t, Config{FetchAttempts: 3}, api)

	res, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)
	assert.Equal(t, 3, api.listCalls)
	assert.Equal(t, 1, res.Annotated)
}

func TestRunForSubject_FetchFailures(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
	}{
		{
			name:      "Permanent error is not retried",
			errs:      []error{&httputil.HTTPError{StatusCode: 403}},
			wantCalls: 1,
		},
		{
			name:      "Page limit aborts without retry",
			errs:      []error{&strava.PageLimitError{MaxPages: 5, PerPage: 200}},
			wantCalls: 1,
		},
		{
			name: "Retries exhausted",
			errs: []error{
				&httputil.HTTPError{StatusCode: 500},
				&httputil.HTTPError{StatusCode: 500},
				&httputil.HTTPError{StatusCode: 500},
			},
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeStrava(run(1, 1, 1000))
			api.listErrs = tt.errs
			h := newHarness(t, Config{FetchAttempts: 3}, api)

			_, err := h.orch.RunForSubject(context.Background(), "2268957")
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, api.listCalls)
			assert.Empty(t, api.updates)
		})
	}
}

func TestRunForSubject_NoActivitiesIsSilentSuccess(t *testing.T) {
	h := newHarness(t, Config{}, newFakeStrava())

	res, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Equal(t, 0, res.Annotated)
}

func TestRunForSubject_OnlyActivitiesBeforeStart(t *testing.T) {
	h := newHarness(t, Config{}, newFakeStrava(run(1, -3, 1000)))

	res, err := h.orch.RunForSubject(context.Background(), "2268957")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.Qualifying)
	assert.Empty(t, h.api.updates)
}

func TestRunForSubject_AuthExpiredNotifies(t *testing.T) {
	api := newFakeStrava(run(1, 1, 1000))
	h := newHarness(t, Config{ReauthNotification: true, AuthorizeURL: "https://journey.example.com/authorize"}, api)
	h.tokens.errs["2268957"] = &oauth.AuthExpiredError{SubjectID: "2268957", Err: errors.New("invalid grant")}

	_, err := h.orch.RunForSubject(context.Background(), "2268957")

	var authErr *oauth.AuthExpiredError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, 0, api.listCalls)
	assert.Equal(t, []string{"device-1"}, h.pushes)
}

func TestRunForSubject_StartDate(t *testing.T) {
	api := newFakeStrava(run(1, 1, 1000))

	t.Run("Fallback used when record has none", func(t *testing.T) {
		h := newHarness(t, Config{FallbackStartDate: startDate}, api, types.TokenRecord{SubjectID: "7"})
		res, err := h.orch.RunForSubject(context.Background(), "7")
		require.NoError(t, err)
		assert.Equal(t, startDate, res.StartDate)
	})

	t.Run("Missing everywhere is an error", func(t *testing.T) {
		h := newHarness(t, Config{}, api, types.TokenRecord{SubjectID: "7"})
		_, err := h.orch.RunForSubject(context.Background(), "7")
		assert.ErrorContains(t, err, "no journey start date")
	})
}

func TestRunForSubject_MilestoneLoadFailure(t *testing.T) {
	h := newHarness(t, Config{}, newFakeStrava())
	h.orch.milestones = staticMilestones{err: errors.New("no such file")}

	_, err := h.orch.RunForSubject(context.Background(), "2268957")
	assert.ErrorContains(t, err, "load milestones")
}

func TestRunForAll_IsolatesSubjects(t *testing.T) {
	api := newFakeStrava(run(1, 1, 1000))
	h := newHarness(t, Config{}, api,
		types.TokenRecord{SubjectID: "1", JourneyStartDate: startDate},
		types.TokenRecord{SubjectID: "2", JourneyStartDate: startDate},
	)
	h.tokens.errs["1"] = &oauth.AuthExpiredError{SubjectID: "1", Err: errors.New("revoked")}

	batch, err := h.orch.RunForAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Succeeded())
	assert.Equal(t, 1, batch.Failed())
	assert.Contains(t, batch.Errors, "1")
	assert.Equal(t, "2", batch.Results[0].SubjectID)
}
