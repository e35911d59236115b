// Package fivetran is a minimal client for the Fivetran REST API covering
// connector sync triggering, sync polling, and webhook management.
package fivetran

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the production Fivetran API endpoint.
const DefaultBaseURL = "https://api.fivetran.com/v1"

// Sentinel errors distinguishing the API failure modes callers branch on.
var (
	// ErrInvalidCredentials indicates the API key/secret pair was rejected.
	ErrInvalidCredentials = errors.New("fivetran: invalid credentials")
	// ErrConnectorNotFound indicates the connector ID does not exist.
	ErrConnectorNotFound = errors.New("fivetran: connector not found")
	// ErrBadRequest indicates the request was malformed or not allowed.
	ErrBadRequest = errors.New("fivetran: bad request")
	// ErrSyncFailed indicates a triggered sync finished with a failure.
	ErrSyncFailed = errors.New("fivetran: sync failed")
)

// Client calls the Fivetran REST API using basic auth.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	// PollInterval is the delay between sync status checks.
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

// WithPollInterval overrides the sync polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.PollInterval = d }
}

// NewClient creates a Fivetran API client.
func NewClient(apiKey, apiSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connector holds the connector fields the sync flow inspects.
type Connector struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	Service     string          `json:"service"`
	Schema      string          `json:"schema"`
	Paused      bool            `json:"paused"`
	SucceededAt *time.Time      `json:"succeeded_at"`
	FailedAt    *time.Time      `json:"failed_at"`
	Status      ConnectorStatus `json:"status"`
}

// ConnectorStatus reports the connector's current state machine position.
type ConnectorStatus struct {
	SetupState  string `json:"setup_state"`
	SyncState   string `json:"sync_state"`
	UpdateState string `json:"update_state"`
}

// Webhook is an account-level webhook registration.
type Webhook struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listEnvelope struct {
	Code string `json:"code"`
	Data struct {
		Items []Webhook `json:"items"`
	} `json:"data"`
}

// ConnectorDetails fetches the current state of a connector.
func (c *Client) ConnectorDetails(ctx context.Context, connectorID string) (*Connector, error) {
	var conn Connector
	if err := c.do(ctx, http.MethodGet, "/connectors/"+connectorID, nil, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// TriggerSync starts a sync on a connector. With force set, a running sync is
// restarted instead of the request being ignored.
func (c *Client) TriggerSync(ctx context.Context, connectorID string, force bool) error {
	body := map[string]bool{"force": force}
	return c.do(ctx, http.MethodPost, "/connectors/"+connectorID+"/force", body, nil)
}

// SyncStatus returns the connector's current sync_state, e.g. "syncing" or
// "scheduled".
func (c *Client) SyncStatus(ctx context.Context, connectorID string) (string, error) {
	conn, err := c.ConnectorDetails(ctx, connectorID)
	if err != nil {
		return "", err
	}
	return conn.Status.SyncState, nil
}

// Connect verifies the API credentials by listing users.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/users", nil, nil)
}

// UpdateConnector patches connector settings, e.g. {"paused": false}. At
// least one field is required.
func (c *Client) UpdateConnector(ctx context.Context, connectorID string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no connector updates provided", ErrBadRequest)
	}
	return c.do(ctx, http.MethodPatch, "/connectors/"+connectorID, fields, nil)
}

// WaitForSync polls a connector until a sync completes after the given
// baseline. A newer succeeded_at means success; a newer failed_at returns
// ErrSyncFailed. The baseline should be captured via ConnectorDetails before
// TriggerSync.
func (c *Client) WaitForSync(ctx context.Context, connectorID string, baseline *Connector) (*Connector, error) {
	prevSucceeded := timeOrZero(baseline.SucceededAt)
	prevFailed := timeOrZero(baseline.FailedAt)

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for connector %s sync: %w", connectorID, ctx.Err())
		case <-ticker.C:
		}

		conn, err := c.ConnectorDetails(ctx, connectorID)
		if err != nil {
			return nil, err
		}

		if t := timeOrZero(conn.FailedAt); t.After(prevFailed) {
			return conn, fmt.Errorf("%w: connector %s failed at %s", ErrSyncFailed, connectorID, t.Format(time.RFC3339))
		}
		if t := timeOrZero(conn.SucceededAt); t.After(prevSucceeded) {
			return conn, nil
		}
	}
}

// CreateWebhook registers an account-level webhook for the given events.
func (c *Client) CreateWebhook(ctx context.Context, url, secret string, events []string) (*Webhook, error) {
	body := map[string]any{
		"url":    url,
		"events": events,
		"active": true,
		"secret": secret,
	}
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks/account", body, &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}

// CreateGroupWebhook registers a webhook scoped to one destination group.
func (c *Client) CreateGroupWebhook(ctx context.Context, groupID, url, secret string, events []string) (*Webhook, error) {
	body := map[string]any{
		"url":    url,
		"events": events,
		"active": true,
		"secret": secret,
	}
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks/group/"+groupID, body, &hook); err != nil {
		return nil, err
	}
	return &hook, nil
}

// TestWebhook asks Fivetran to deliver a sample sync_end event to a webhook.
func (c *Client) TestWebhook(ctx context.Context, webhookID string) error {
	body := map[string]string{"event": "sync_end"}
	return c.do(ctx, http.MethodPost, "/webhooks/"+webhookID+"/test", body, nil)
}

// ListWebhooks returns all webhooks registered on the account.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/webhooks", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fivetran: list webhooks: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var list listEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("fivetran: decode webhook list: %w", err)
	}
	return list.Data.Items, nil
}

// DeleteWebhook removes a webhook registration.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+webhookID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fivetran: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("fivetran: decode response for %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("fivetran: decode data for %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("fivetran: marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("fivetran: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case resp.StatusCode == http.StatusNotFound:
		return ErrConnectorNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrBadRequest
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("fivetran: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
