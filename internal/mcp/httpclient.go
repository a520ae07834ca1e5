package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/syncer"
)

// HTTPClient implements Backend by calling the liftlog REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// the session engine runs elsewhere (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies Backend.
var _ Backend = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
// Utterances wait on the language model, so the timeout is generous.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("httpclient: %s returned %d: %s", e.Path, e.Status, e.Message)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpclient: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) Session(ctx context.Context) (models.Session, bool, error) {
	var doc models.Session
	err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, nil, &doc)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return models.Session{}, false, nil
	}
	if err != nil {
		return models.Session{}, false, err
	}
	return doc, true, nil
}

func (c *HTTPClient) StartSession(ctx context.Context, title string, exercises []string) (models.Session, error) {
	type routineEntry struct {
		Name string `json:"name"`
	}
	req := struct {
		Title   string         `json:"title,omitempty"`
		Routine []routineEntry `json:"routine,omitempty"`
	}{Title: title}
	for _, name := range exercises {
		req.Routine = append(req.Routine, routineEntry{Name: name})
	}

	var doc models.Session
	err := c.do(ctx, http.MethodPost, "/api/v1/session", nil, req, &doc)
	return doc, err
}

func (c *HTTPClient) Utterance(ctx context.Context, text string) (engine.Result, error) {
	var res engine.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/utterances", nil, map[string]string{"text": text}, &res)
	return res, err
}

func (c *HTTPClient) QuickRepeat(ctx context.Context, exerciseID string) (engine.Result, error) {
	var res engine.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/quick-repeat", nil, map[string]string{"exercise_id": exerciseID}, &res)
	return res, err
}

func (c *HTTPClient) FinishSession(ctx context.Context) (models.Session, error) {
	var doc models.Session
	err := c.do(ctx, http.MethodPost, "/api/v1/session/finish", nil, nil, &doc)
	return doc, err
}

func (c *HTTPClient) DiscardSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/session", nil, nil, nil)
}

func (c *HTTPClient) SyncStatus(ctx context.Context) (syncer.Status, error) {
	var st syncer.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, nil, &st)
	return st, err
}

func (c *HTTPClient) ResolveExercise(ctx context.Context, name string) (resolver.Match, error) {
	var m resolver.Match
	err := c.do(ctx, http.MethodGet, "/api/v1/exercises/resolve", url.Values{"name": {name}}, nil, &m)
	return m, err
}

func (c *HTTPClient) ExerciseHistory(ctx context.Context, exerciseID string) (models.ExerciseHistory, error) {
	var h models.ExerciseHistory
	err := c.do(ctx, http.MethodGet, "/api/v1/exercises/"+url.PathEscape(exerciseID)+"/history", nil, nil, &h)
	return h, err
}
