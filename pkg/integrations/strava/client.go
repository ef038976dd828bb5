// Package strava reads activities from the Strava REST API.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	httputil "github.com/desirelines/pipeline/pkg/infrastructure/http"
	"github.com/desirelines/pipeline/pkg/infrastructure/metrics"
	"github.com/desirelines/pipeline/pkg/retry"
)

const (
	DefaultBaseURL = "https://www.strava.com/api/v3"
	// PageSize is the per_page value used when listing activities.
	PageSize = 100
)

// Client is an API client for Strava. Authentication is supplied by the
// http.Client's transport.
type Client struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a new Strava API client. policy governs single-activity
// reads; timeout bounds every request.
func NewClient(baseURL string, httpClient *http.Client, policy retry.Policy, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, client: httpClient, policy: policy, timeout: timeout, logger: logger}
}

// GetActivitySummary fetches the minimal profile of one activity.
func (c *Client) GetActivitySummary(ctx context.Context, activityID int64) (activity.Summary, error) {
	var out activity.Summary
	err := c.getActivity(ctx, activityID, &out)
	return out, err
}

// GetActivityRecord fetches the detailed profile of one activity.
func (c *Client) GetActivityRecord(ctx context.Context, activityID int64) (*activity.Record, error) {
	var out activity.Record
	if err := c.getActivity(ctx, activityID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getActivity(ctx context.Context, activityID int64, out any) error {
	policy := c.policy.WithRetryable(apperrors.IsRetryable)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordUpstreamRetry("fetch_activity")
		c.logger.Warn("Activity fetch failed, retrying",
			"operation", "fetch_activity",
			"activity_id", activityID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return c.get(ctx, "fetch_activity", fmt.Sprintf("/activities/%d", activityID), nil, activityID, out)
	})
	if err != nil {
		c.logger.Error("Failed to fetch activity",
			"operation", "fetch_activity",
			"activity_id", activityID,
			"error", err,
		)
		return err
	}

	c.logger.Info("Successfully fetched activity from Strava", "operation", "fetch_activity", "activity_id", activityID)
	return nil
}

// ListActivities returns one page of the athlete's activities started
// between after and before.
func (c *Client) ListActivities(ctx context.Context, after, before time.Time, page int) ([]activity.Record, error) {
	var out []activity.Record
	err := c.listPage(ctx, after, before, page, &out)
	return out, err
}

// RecordsByYear returns every detailed activity started within yearSlack of
// year in UTC. Callers filter on the local start date.
func (c *Client) RecordsByYear(ctx context.Context, year int) ([]activity.Record, error) {
	return byYear[activity.Record](ctx, c, year)
}

// SummariesByYear returns the minimal profile of every activity started
// within yearSlack of year in UTC.
func (c *Client) SummariesByYear(ctx context.Context, year int) ([]activity.Summary, error) {
	return byYear[activity.Summary](ctx, c, year)
}

// yearSlack widens the UTC list window so activities whose local start
// falls in the year are fetched whatever the athlete's UTC offset.
const yearSlack = 24 * time.Hour

// byYear walks pages until the API returns an empty one.
func byYear[T any](ctx context.Context, c *Client, year int) ([]T, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	after := start.Add(-yearSlack)
	before := start.AddDate(1, 0, 0).Add(yearSlack)

	var all []T
	for page := 1; ; page++ {
		var batch []T
		if err := c.listPage(ctx, after, before, page, &batch); err != nil {
			return nil, fmt.Errorf("list activities page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		c.logger.Info("Page successfully fetched", "page", page, "count", len(batch))
	}
	return all, nil
}

func (c *Client) listPage(ctx context.Context, after, before time.Time, page int, out any) error {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after.Unix(), 10))
	q.Set("before", strconv.FormatInt(before.Unix(), 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(PageSize))
	return c.get(ctx, "list_activities", "/activities", q, 0, out)
}

// get performs one GET and decodes a 2xx body into out.
func (c *Client) get(ctx context.Context, operation, path string, query url.Values, activityID int64, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if apperrors.IsPermanent(err) {
			return err
		}
		return &apperrors.UpstreamAPIError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return statusError(operation, activityID, resp.StatusCode, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperrors.UpstreamAPIError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(operation string, activityID int64, status int, cause error) error {
	switch {
	case status == http.StatusNotFound && activityID != 0:
		return &apperrors.ActivityNotFoundError{ActivityID: activityID, Reason: apperrors.ReasonGone}
	case status == http.StatusUnauthorized:
		return &apperrors.CredentialError{Operation: operation, StatusCode: status, Err: cause}
	default:
		return &apperrors.UpstreamAPIError{Operation: operation, StatusCode: status, Err: cause}
	}
}
