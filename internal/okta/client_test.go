package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUsersFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SSWS tok_test", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/users", r.URL.Path)

		switch r.URL.Query().Get("after") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users?limit=2&after=u2>; rel="next"`, srv.URL))
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "u1", "status": "ACTIVE", "profile": map[string]string{"login": "a@example.com"}},
				{"id": "u2", "status": "ACTIVE", "profile": map[string]string{"login": "b@example.com"}},
			})
		case "u2":
			// Self link only, no rel="next": pagination stops here.
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/users?limit=2>; rel="self"`, srv.URL))
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "u3", "status": "DEPROVISIONED", "profile": map[string]string{"login": "c@example.com"}},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_test", WithPageLimit(2))
	users, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "c@example.com", users[2].Profile.Login)
}

func TestListDeprovisionedUsersSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users", r.URL.Path)
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		assert.Equal(t, `status eq "DEPROVISIONED"`, r.URL.Query().Get("search"))
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "u9", "status": "DEPROVISIONED"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_test")
	users, err := client.ListDeprovisionedUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "DEPROVISIONED", users[0].Status)
}

func TestMembershipEndpointsUseLargerPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/groups/g1/users":
			assert.Equal(t, "1000", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]map[string]any{{"id": "u1"}})
		case "/api/v1/apps/a1/users":
			assert.Equal(t, "500", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]map[string]any{{"id": "u1", "status": "PROVISIONED"}})
		case "/api/v1/apps":
			assert.Equal(t, "200", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]map[string]any{{"id": "a1", "name": "salesforce"}})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_test")

	apps, err := client.ListApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "salesforce", apps[0].Name)

	members, err := client.GroupMembers(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	appUsers, err := client.AppUsers(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, appUsers, 1)
	assert.Equal(t, "PROVISIONED", appUsers[0].Status)
}

func TestGetPageRetriesOnInvalidJSON(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Truncated body: decode fails and the page is refetched.
			w.Write([]byte(`[{"id": "u1"`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{"id": "u1"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_test", WithRetryDelay(time.Millisecond))
	users, err := client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetPageRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{"id": "g1"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_test", WithRetryDelay(time.Millisecond))
	groups, err := client.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetPageFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok_bad")
	_, err := client.ListUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNextLink(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://example.okta.com/api/v1/users?limit=200>; rel="self"`)
	h.Add("Link", `<https://example.okta.com/api/v1/users?limit=200&after=u9>; rel="next"`)
	assert.Equal(t, "https://example.okta.com/api/v1/users?limit=200&after=u9", nextLink(h))

	h = http.Header{}
	h.Add("Link", `<https://example.okta.com/api/v1/users?limit=200>; rel="self"`)
	assert.Empty(t, nextLink(h))
}
