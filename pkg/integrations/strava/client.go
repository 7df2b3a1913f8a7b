package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	httputil "github.com/fitglue/journey/pkg/infrastructure/http"
	"github.com/fitglue/journey/pkg/types"
)

const (
	DefaultBaseURL = "https://www.strava.com/api/v3"
	// MaxPageSize is the largest per_page Strava accepts.
	MaxPageSize = 200
)

// Client is an API client for the Strava v3 API. Authentication is the
// responsibility of the http.Client's transport.
type Client struct {
	baseURL string
	client  *http.Client

	Logger *slog.Logger
}

// NewClient creates a Strava client. httpClient normally carries an oauth.Transport.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		Logger:  slog.Default().With("component", "strava"),
	}
}

// Activity is the subset of a Strava SummaryActivity / DetailedActivity we read.
// The list endpoint never includes the description.
type Activity struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	SportType      string  `json:"sport_type"`
	StartDateLocal string  `json:"start_date_local"` // local wall clock, suffixed "Z"
	Distance       float64 `json:"distance"`         // meters
	Description    *string `json:"description"`
}

// ToActivity converts to the domain type, keeping the local wall clock.
func (a *Activity) ToActivity() (types.Activity, error) {
	start, err := time.Parse(time.RFC3339, a.StartDateLocal)
	if err != nil {
		return types.Activity{}, fmt.Errorf("activity %d: bad start_date_local %q: %w", a.ID, a.StartDateLocal, err)
	}
	out := types.Activity{
		ID:         a.ID,
		Name:       a.Name,
		SportType:  a.SportType,
		StartLocal: start,
		Distance:   a.Distance,
	}
	if a.Description != nil {
		out.Description = *a.Description
	}
	return out, nil
}

// ListActivitiesParams are parameters for listing activities
type ListActivitiesParams struct {
	After   time.Time // only activities that started after this instant
	Page    int
	PerPage int
}

// doRequest performs an HTTP request and turns 4xx/5xx responses into errors.
// Network failures and retryable statuses come back as *httputil.TransientError.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + strings.SplitN(path, "?", 2)[0]
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, httputil.Classify(op, fmt.Errorf("execute request: %w", err))
	}

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, httputil.Classify(op, err)
	}
	return resp, nil
}

// ListActivities retrieves one page of the athlete's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, params ListActivitiesParams) ([]Activity, error) {
	q := url.Values{}
	if !params.After.IsZero() {
		q.Set("after", strconv.FormatInt(params.After.Unix(), 10))
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(params.PerPage))
	}

	path := "/athlete/activities"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return activities, nil
}

// PageLimitError reports that more activities exist than maxPages pages of
// perPage can hold. Activities come back oldest first when after is set, so
// the missing ones are the most recent.
type PageLimitError struct {
	MaxPages int
	PerPage  int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("more than %d activities since journey start (%d pages of %d); raise the page limit",
		e.MaxPages*e.PerPage, e.MaxPages, e.PerPage)
}

// ListAllActivities pages through activities after the given instant until a
// short page. Reading maxPages full pages with more activities left is a
// *PageLimitError. Activities whose start date cannot be parsed are skipped.
func (c *Client) ListAllActivities(ctx context.Context, after time.Time, perPage, maxPages int) ([]types.Activity, error) {
	if perPage <= 0 || perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var out []types.Activity
	for page := 1; page <= maxPages; page++ {
		batch, err := c.ListActivities(ctx, ListActivitiesParams{After: after, Page: page, PerPage: perPage})
		if err != nil {
			return nil, fmt.Errorf("list activities page %d: %w", page, err)
		}
		for i := range batch {
			a, err := batch[i].ToActivity()
			if err != nil {
				c.Logger.Warn("Skipping activity with unreadable start date", "activity_id", batch[i].ID, "error", err)
				continue
			}
			out = append(out, a)
		}
		if len(batch) < perPage {
			return out, nil
		}
	}

	// Every page was full; look for the single next activity.
	next, err := c.ListActivities(ctx, ListActivitiesParams{After: after, Page: maxPages*perPage + 1, PerPage: 1})
	if err != nil {
		return nil, fmt.Errorf("list activities past page %d: %w", maxPages, err)
	}
	if len(next) > 0 {
		return nil, &PageLimitError{MaxPages: maxPages, PerPage: perPage}
	}
	return out, nil
}

// GetActivity retrieves a single activity by ID, including its description.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*Activity, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/activities/%d", activityID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activity Activity
	if err := json.NewDecoder(resp.Body).Decode(&activity); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &activity, nil
}

type updatableActivity struct {
	Description string `json:"description"`
}

// UpdateDescription replaces the activity description.
func (c *Client) UpdateDescription(ctx context.Context, activityID int64, description string) error {
	resp, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/activities/%d", activityID), updatableActivity{Description: description})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
