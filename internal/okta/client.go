// Package okta extracts apps, users, groups, and their membership edges from
// the Okta API and loads them into BigQuery.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CruGlobal/dot/internal/retry"
)

// Per-endpoint page limits. Membership endpoints return thin records, so the
// API tolerates larger pages there.
const (
	listPageLimit    = 200
	appUserPageLimit = 500
	memberPageLimit  = 1000
)

// Directory is the Okta read surface the sync pipeline uses.
type Directory interface {
	ListApps(ctx context.Context) ([]App, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListDeprovisionedUsers(ctx context.Context) ([]User, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]User, error)
	AppUsers(ctx context.Context, appID string) ([]AppUser, error)
}

// App is the subset of an Okta application record the sync exports.
type App struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Label       string     `json:"label"`
	Status      string     `json:"status"`
	SignOnMode  string     `json:"signOnMode"`
	Created     *time.Time `json:"created"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// AppUser is one user assignment on an application.
type AppUser struct {
	ID      string     `json:"id"`
	Status  string     `json:"status"`
	Created *time.Time `json:"created"`
}

// User is the subset of an Okta user record the sync exports.
type User struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Created     *time.Time  `json:"created"`
	LastLogin   *time.Time  `json:"lastLogin"`
	LastUpdated *time.Time  `json:"lastUpdated"`
	Profile     UserProfile `json:"profile"`
}

// UserProfile carries the profile attributes the sync exports.
type UserProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Login     string `json:"login"`
}

// Group is the subset of an Okta group record the sync exports.
type Group struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Created     *time.Time   `json:"created"`
	LastUpdated *time.Time   `json:"lastUpdated"`
	Profile     GroupProfile `json:"profile"`
	Embedded    struct {
		Stats struct {
			UsersCount int `json:"usersCount"`
		} `json:"stats"`
	} `json:"_embedded"`
}

// GroupProfile carries the group name and description.
type GroupProfile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MemberCount returns the group size from the expanded stats.
func (g Group) MemberCount() int {
	return g.Embedded.Stats.UsersCount
}

// Client calls the Okta API with SSWS token auth, following Link-header
// pagination and backing off on rate limits.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pageLimit  int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPageLimit overrides the per-page result limit.
func WithPageLimit(n int) Option {
	return func(c *Client) { c.pageLimit = n }
}

// WithRetryDelay overrides the initial rate-limit backoff delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient creates an Okta API client for the given org URL,
// e.g. "https://example.okta.com".
func NewClient(orgURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(orgURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pageLimit:  listPageLimit,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListApps returns all applications in the org.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	return collectPages[App](ctx, c, fmt.Sprintf("%s/api/v1/apps?limit=%d", c.baseURL, c.pageLimit))
}

// ListUsers returns all users in the org. Deprovisioned users are omitted by
// the API; fetch those separately with ListDeprovisionedUsers.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	return collectPages[User](ctx, c, fmt.Sprintf("%s/api/v1/users?limit=%d", c.baseURL, c.pageLimit))
}

// ListDeprovisionedUsers returns the users the default listing hides.
func (c *Client) ListDeprovisionedUsers(ctx context.Context) ([]User, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("search", `status eq "DEPROVISIONED"`)
	return collectPages[User](ctx, c, c.baseURL+"/api/v1/users?"+q.Encode())
}

// ListGroups returns all groups with their member counts expanded.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	return collectPages[Group](ctx, c, fmt.Sprintf("%s/api/v1/groups?limit=%d&expand=stats", c.baseURL, c.pageLimit))
}

// GroupMembers returns all users in one group.
func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]User, error) {
	return collectPages[User](ctx, c, fmt.Sprintf("%s/api/v1/groups/%s/users?limit=%d", c.baseURL, groupID, memberPageLimit))
}

// AppUsers returns all user assignments on one application.
func (c *Client) AppUsers(ctx context.Context, appID string) ([]AppUser, error) {
	return collectPages[AppUser](ctx, c, fmt.Sprintf("%s/api/v1/apps/%s/users?limit=%d", c.baseURL, appID, appUserPageLimit))
}

// collectPages fetches url and every rel="next" page after it.
func collectPages[T any](ctx context.Context, c *Client, url string) ([]T, error) {
	var all []T
	for url != "" {
		var page []T
		next, err := c.getPage(ctx, url, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		url = next
	}
	return all, nil
}

// getPage fetches one page, retrying on 429 with exponential backoff, and
// returns the rel="next" link if present.
func (c *Client) getPage(ctx context.Context, url string, out any) (string, error) {
	var next string

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Fatal(fmt.Errorf("okta: build request: %w", err))
		}
		req.Header.Set("Authorization", "SSWS "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("okta: get %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("okta: rate limited on %s", url)
		}
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return retry.Fatal(fmt.Errorf("okta: get %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body))))
		}

		// A truncated or malformed body is usually transient, so decode
		// failures stay retryable.
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("okta: decode %s: %w", url, err)
		}
		next = nextLink(resp.Header)
		return nil
	}

	err := retry.WithExponentialBackoff(ctx, op,
		retry.WithMaxRetries(6),
		retry.WithInitialDelay(c.retryDelay),
		retry.WithMaxDelay(time.Minute),
	)
	if err != nil {
		return "", err
	}
	return next, nil
}

// nextLink extracts the rel="next" URL from an RFC 5988 Link header.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			section := strings.Split(part, ";")
			if len(section) < 2 {
				continue
			}
			if strings.TrimSpace(section[1]) != `rel="next"` {
				continue
			}
			url := strings.TrimSpace(section[0])
			return strings.Trim(url, "<>")
		}
	}
	return ""
}
