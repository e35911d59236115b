package fivetran

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "secret",
		WithBaseURL(srv.URL),
		WithPollInterval(5*time.Millisecond),
	)
}

func connectorJSON(succeeded, failed *time.Time) map[string]any {
	data := map[string]any{
		"id":       "conn_1",
		"group_id": "grp_1",
		"service":  "salesforce",
		"schema":   "salesforce",
		"status":   map[string]string{"setup_state": "connected", "sync_state": "scheduled"},
	}
	if succeeded != nil {
		data["succeeded_at"] = succeeded.Format(time.RFC3339)
	}
	if failed != nil {
		data["failed_at"] = failed.Format(time.RFC3339)
	}
	return map[string]any{"code": "Success", "data": data}
}

func TestConnectorDetails(t *testing.T) {
	succeeded := time.Date(2026, 8, 30, 5, 0, 0, 0, time.UTC)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connectors/conn_1", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(connectorJSON(&succeeded, nil))
	}))

	conn, err := client.ConnectorDetails(context.Background(), "conn_1")
	require.NoError(t, err)
	assert.Equal(t, "salesforce", conn.Service)
	require.NotNil(t, conn.SucceededAt)
	assert.True(t, conn.SucceededAt.Equal(succeeded))
	assert.Nil(t, conn.FailedAt)
}

func TestStatusErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidCredentials},
		{http.StatusNotFound, ErrConnectorNotFound},
		{http.StatusBadRequest, ErrBadRequest},
	}
	for _, tt := range tests {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := client.ConnectorDetails(context.Background(), "conn_1")
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestTriggerSyncSendsForce(t *testing.T) {
	var gotBody map[string]bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connectors/conn_1/force", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"code": "Success"})
	}))

	require.NoError(t, client.TriggerSync(context.Background(), "conn_1", true))
	assert.True(t, gotBody["force"])
}

func TestSyncStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connectors/conn_1", r.URL.Path)
		json.NewEncoder(w).Encode(connectorJSON(nil, nil))
	}))

	state, err := client.SyncStatus(context.Background(), "conn_1")
	require.NoError(t, err)
	assert.Equal(t, "scheduled", state)
}

func TestConnectValidatesCredentials(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users", r.URL.Path)
		w.WriteHeader(int(status.Load()))
		json.NewEncoder(w).Encode(map[string]string{"code": "Success"})
	}))

	require.NoError(t, client.Connect(context.Background()))

	status.Store(http.StatusUnauthorized)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrInvalidCredentials)
}

func TestUpdateConnectorRequiresFields(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/connectors/conn_1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"code": "Success"})
	}))

	ctx := context.Background()
	err := client.UpdateConnector(ctx, "conn_1", nil)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Nil(t, gotBody, "empty updates never reach the API")

	require.NoError(t, client.UpdateConnector(ctx, "conn_1", map[string]any{"paused": false}))
	assert.Equal(t, false, gotBody["paused"])
}

func TestWaitForSyncSucceeds(t *testing.T) {
	baselineTime := time.Date(2026, 8, 30, 5, 0, 0, 0, time.UTC)
	newTime := baselineTime.Add(time.Hour)

	var polls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First two polls report the stale timestamp, then the sync lands.
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(connectorJSON(&baselineTime, nil))
			return
		}
		json.NewEncoder(w).Encode(connectorJSON(&newTime, nil))
	}))

	baseline := &Connector{SucceededAt: &baselineTime}
	conn, err := client.WaitForSync(context.Background(), "conn_1", baseline)
	require.NoError(t, err)
	assert.True(t, conn.SucceededAt.Equal(newTime))
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestWaitForSyncReportsFailure(t *testing.T) {
	baselineTime := time.Date(2026, 8, 30, 5, 0, 0, 0, time.UTC)
	failedTime := baselineTime.Add(30 * time.Minute)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connectorJSON(&baselineTime, &failedTime))
	}))

	baseline := &Connector{SucceededAt: &baselineTime, FailedAt: &baselineTime}
	_, err := client.WaitForSync(context.Background(), "conn_1", baseline)
	assert.ErrorIs(t, err, ErrSyncFailed)
}

func TestWaitForSyncHonorsContext(t *testing.T) {
	baselineTime := time.Date(2026, 8, 30, 5, 0, 0, 0, time.UTC)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connectorJSON(&baselineTime, nil))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForSync(ctx, "conn_1", &Connector{SucceededAt: &baselineTime})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebhookLifecycle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/account":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://hooks.example.com/fivetran", body["url"])
			json.NewEncoder(w).Encode(map[string]any{
				"code": "Success",
				"data": map[string]any{"id": "wh_1", "url": body["url"], "active": true},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/webhooks":
			json.NewEncoder(w).Encode(map[string]any{
				"code": "Success",
				"data": map[string]any{"items": []map[string]any{{"id": "wh_1", "active": true}}},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/group/grp_1":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["active"])
			json.NewEncoder(w).Encode(map[string]any{
				"code": "Success",
				"data": map[string]any{"id": "wh_2", "url": body["url"], "active": true},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks/wh_1/test":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "sync_end", body["event"])
			json.NewEncoder(w).Encode(map[string]string{"code": "Success"})
		case r.Method == http.MethodDelete && r.URL.Path == "/webhooks/wh_1":
			json.NewEncoder(w).Encode(map[string]string{"code": "Success"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	ctx := context.Background()
	hook, err := client.CreateWebhook(ctx, "https://hooks.example.com/fivetran", "s3cret", []string{"sync_end"})
	require.NoError(t, err)
	assert.Equal(t, "wh_1", hook.ID)

	groupHook, err := client.CreateGroupWebhook(ctx, "grp_1", "https://hooks.example.com/fivetran", "s3cret", []string{"sync_start", "sync_end"})
	require.NoError(t, err)
	assert.Equal(t, "wh_2", groupHook.ID)

	hooks, err := client.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, hooks, 1)

	require.NoError(t, client.TestWebhook(ctx, "wh_1"))
	require.NoError(t, client.DeleteWebhook(ctx, "wh_1"))
}
