package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/claude/liftlog/internal/models"
)

// HTTPError is a non-2xx response from the platform.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("platform: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNetworkError reports whether err is a transport failure rather than a
// response from the platform.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return false
	}
	var de *DecodeError
	return !errors.As(err, &de)
}

// DecodeError is a 2xx response whose body could not be understood.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("platform: decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client talks to the remote workout platform.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	log        *slog.Logger

	// newBackOff paces retries of read requests.
	newBackOff func() backoff.BackOff
	maxTries   uint
}

// NewClient creates a platform client.
func NewClient(baseURL, apiKey string, pageSize int, timeout time.Duration, log *slog.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		maxTries:   4,
	}
}

// SetReadBackOff replaces the retry pacing of read requests.
func (c *Client) SetReadBackOff(newBackOff func() backoff.BackOff, maxTries uint) {
	c.newBackOff = newBackOff
	c.maxTries = maxTries
}

// CreateWorkout posts doc as a new workout and returns its remote identifier.
func (c *Client) CreateWorkout(ctx context.Context, doc models.Session) (string, error) {
	w, err := c.write(ctx, http.MethodPost, "/v1/workouts", doc)
	if err != nil {
		return "", err
	}
	if w.ID == "" {
		return "", &DecodeError{Path: "/v1/workouts", Err: errors.New("response carries no workout id")}
	}
	return w.ID, nil
}

// UpdateWorkout replaces the remote workout id with doc.
func (c *Client) UpdateWorkout(ctx context.Context, id string, doc models.Session) error {
	_, err := c.write(ctx, http.MethodPut, "/v1/workouts/"+url.PathEscape(id), doc)
	return err
}

// write sends a create or update once. Retrying is left to the caller.
func (c *Client) write(ctx context.Context, method, path string, doc models.Session) (Workout, error) {
	body, err := json.Marshal(workoutEnvelope{Workout: ToWire(doc)})
	if err != nil {
		return Workout{}, fmt.Errorf("marshaling workout: %w", err)
	}
	data, err := c.do(ctx, method, path, nil, body)
	if err != nil {
		return Workout{}, err
	}

	var resp writeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Workout{}, &DecodeError{Path: path, Err: err}
	}
	if len(resp.Workout) == 0 {
		return Workout{}, &DecodeError{Path: path, Err: errors.New("empty workout array")}
	}
	return resp.Workout[0], nil
}

// Ping checks that the platform is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	data, err := c.do(ctx, http.MethodGet, "/v1/workouts/count", nil, nil)
	if err != nil {
		return err
	}
	var resp countResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return &DecodeError{Path: "/v1/workouts/count", Err: err}
	}
	return nil
}

// ExerciseTemplates pages through the whole exercise catalog.
func (c *Client) ExerciseTemplates(ctx context.Context) ([]models.CatalogExercise, error) {
	var out []models.CatalogExercise
	err := c.paginate(ctx, "/v1/exercise_templates", nil, func(data []byte) (int, bool, error) {
		var page templatesPage
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, false, err
		}
		for _, t := range page.ExerciseTemplates {
			out = append(out, t.catalog())
		}
		return page.PageCount, len(page.ExerciseTemplates) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing exercise templates: %w", err)
	}
	return out, nil
}

// RecentSessions returns the exercise sessions of every workout that started
// at or after since. Workouts arrive newest first, so paging stops at the
// first page reaching past since.
func (c *Client) RecentSessions(ctx context.Context, since time.Time) ([]models.HistorySession, error) {
	var out []models.HistorySession
	err := c.paginate(ctx, "/v1/workouts", nil, func(data []byte) (int, bool, error) {
		var page workoutsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, false, err
		}
		more := len(page.Workouts) > 0
		for _, w := range page.Workouts {
			if w.StartTime.Before(since) {
				more = false
				continue
			}
			out = append(out, w.HistorySessions()...)
		}
		return page.PageCount, more, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing workouts: %w", err)
	}
	return out, nil
}

// HistoryChanges reads the workout event feed since the given time.
func (c *Client) HistoryChanges(ctx context.Context, since time.Time) (models.HistoryChanges, error) {
	var out models.HistoryChanges
	params := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	err := c.paginate(ctx, "/v1/workouts/events", params, func(data []byte) (int, bool, error) {
		var page eventsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return 0, false, err
		}
		for _, ev := range page.Events {
			switch ev.Type {
			case EventUpdated:
				if ev.Workout != nil {
					out.Updated = append(out.Updated, ev.Workout.HistorySessions()...)
				}
			case EventDeleted:
				out.Deleted = append(out.Deleted, ev.ID)
			default:
				c.log.Debug("ignoring workout event", "type", ev.Type)
			}
		}
		return page.PageCount, len(page.Events) > 0, nil
	})
	if err != nil {
		return models.HistoryChanges{}, fmt.Errorf("reading workout events: %w", err)
	}
	return out, nil
}

// paginate fetches pages of path until the reported page count is reached or
// handle reports there is nothing more to read. handle returns the page count
// and whether to continue.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, handle func([]byte) (int, bool, error)) error {
	for page := 1; ; page++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.pageSize))

		data, err := c.read(ctx, path, q)
		if err != nil {
			return err
		}
		pageCount, more, err := handle(data)
		if err != nil {
			return &DecodeError{Path: path, Err: err}
		}
		if !more || page >= pageCount {
			return nil
		}
	}
}

// read performs a GET, retrying transport failures and retryable statuses.
func (c *Client) read(ctx context.Context, path string, params url.Values) ([]byte, error) {
	op := func() ([]byte, error) {
		data, err := c.do(ctx, http.MethodGet, path, params, nil)
		if err == nil {
			return data, nil
		}
		var he *HTTPError
		if errors.As(err, &he) && !he.Retryable() {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug("retrying platform read", "path", path, "wait", wait, "error", err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify),
	)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("platform: create request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("platform: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
