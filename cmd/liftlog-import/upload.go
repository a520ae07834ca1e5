package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/claude/liftlog/internal/ingest/alpha"
)

// uploader sends an export to a running liftlog server.
type uploader struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

func newUploader(serverURL, apiKey string) *uploader {
	return &uploader{
		serverURL:  serverURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Send POSTs the export to the import endpoint. Network failures and 5xx
// responses are retried up to 3 times; other rejections are final.
func (u *uploader) Send(ctx context.Context, r io.Reader) (alpha.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return alpha.Result{}, fmt.Errorf("reading export: %w", err)
	}

	op := func() (alpha.Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.serverURL+"/api/v1/import/alpha", bytes.NewReader(data))
		if err != nil {
			return alpha.Result{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set("X-API-Key", u.apiKey)

		resp, err := u.httpClient.Do(req)
		if err != nil {
			return alpha.Result{}, fmt.Errorf("sending export: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
			if resp.StatusCode < 500 {
				return alpha.Result{}, backoff.Permanent(err)
			}
			return alpha.Result{}, err
		}

		var result alpha.Result
		if err := json.Unmarshal(body, &result); err != nil {
			return alpha.Result{}, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return result, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(u.newBackOff()),
		backoff.WithMaxTries(3),
	)
}
