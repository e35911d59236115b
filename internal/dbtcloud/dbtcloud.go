// Package dbtcloud is a minimal client for the dbt Cloud v2 API covering job
// triggering and run polling.
package dbtcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the production dbt Cloud API endpoint.
const DefaultBaseURL = "https://cloud.getdbt.com/api/v2"

// Run status codes used by the dbt Cloud API.
const (
	RunStatusQueued    = 1
	RunStatusStarting  = 2
	RunStatusRunning   = 3
	RunStatusSuccess   = 10
	RunStatusError     = 20
	RunStatusCancelled = 30
)

var (
	// ErrRunFailed indicates a triggered run finished with an error.
	ErrRunFailed = errors.New("dbtcloud: run failed")
	// ErrRunCancelled indicates a triggered run was cancelled.
	ErrRunCancelled = errors.New("dbtcloud: run cancelled")
	// ErrUnauthorized indicates the API token was rejected.
	ErrUnauthorized = errors.New("dbtcloud: unauthorized")
)

// Client calls the dbt Cloud API for one account.
type Client struct {
	baseURL    string
	accountID  string
	token      string
	httpClient *http.Client
	// PollInterval is the delay between run status checks.
	PollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPollInterval overrides the run polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.PollInterval = d }
}

// NewClient creates a dbt Cloud API client for the given account.
func NewClient(accountID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		accountID:    accountID,
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is a dbt Cloud job run.
type Run struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"job_definition_id"`
	Status      int       `json:"status"`
	StatusHuman string    `json:"status_humanized"`
	IsComplete  bool      `json:"is_complete"`
	RunSteps    []RunStep `json:"run_steps"`
}

// RunStep is one step within a run, included when requested.
type RunStep struct {
	Name        string `json:"name"`
	Status      int    `json:"status"`
	StatusHuman string `json:"status_humanized"`
}

// Finished reports whether the run has reached a terminal status.
func (r *Run) Finished() bool {
	switch r.Status {
	case RunStatusSuccess, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// FailedSteps returns the names of steps that did not succeed.
func (r *Run) FailedSteps() []string {
	var failed []string
	for _, step := range r.RunSteps {
		if step.Status != RunStatusSuccess {
			failed = append(failed, step.Name)
		}
	}
	return failed
}

type runEnvelope struct {
	Data Run `json:"data"`
}

// TriggerJob starts a job run with the given cause string and returns the new run.
func (c *Client) TriggerJob(ctx context.Context, jobID, cause string) (*Run, error) {
	path := fmt.Sprintf("/accounts/%s/jobs/%s/run/", c.accountID, jobID)
	body, err := json.Marshal(map[string]string{"cause": cause})
	if err != nil {
		return nil, fmt.Errorf("dbtcloud: marshal trigger body: %w", err)
	}

	var env runEnvelope
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// RunDetails fetches a run including its steps.
func (c *Client) RunDetails(ctx context.Context, runID int64) (*Run, error) {
	path := fmt.Sprintf("/accounts/%s/runs/%d/?include_related=[%q]", c.accountID, runID, "run_steps")

	var env runEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// WaitForRun polls a run until it reaches a terminal status. A failed run
// returns ErrRunFailed with the non-successful step names in the message.
func (c *Client) WaitForRun(ctx context.Context, runID int64) (*Run, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run %d: %w", runID, ctx.Err())
		case <-ticker.C:
		}

		run, err := c.RunDetails(ctx, runID)
		if err != nil {
			return nil, err
		}
		if !run.Finished() {
			continue
		}

		switch run.Status {
		case RunStatusSuccess:
			return run, nil
		case RunStatusCancelled:
			return run, fmt.Errorf("%w: run %d", ErrRunCancelled, runID)
		default:
			if failed := run.FailedSteps(); len(failed) > 0 {
				return run, fmt.Errorf("%w: run %d, failed steps: %s", ErrRunFailed, runID, strings.Join(failed, ", "))
			}
			return run, fmt.Errorf("%w: run %d", ErrRunFailed, runID)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("dbtcloud: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dbtcloud: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("dbtcloud: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dbtcloud: decode response for %s %s: %w", method, path, err)
	}
	return nil
}
