// Package secrets resolves Secret Manager references used by jobs.yaml and by
// job code that needs credentials at runtime.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Accessor fetches secret payloads. The production implementation wraps the
// Secret Manager API client; tests substitute a fake.
type Accessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
	Close() error
}

// Client is the Secret Manager backed Accessor.
type Client struct {
	sm *secretmanager.Client
}

// NewClient creates a Secret Manager client using ambient credentials.
func NewClient(ctx context.Context) (*Client, error) {
	sm, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &Client{sm: sm}, nil
}

// Access returns the payload of a fully qualified secret version resource,
// e.g. "projects/p/secrets/s/versions/latest".
func (c *Client) Access(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("access secret %q: %w", name, err)
	}
	return resp.GetPayload().GetData(), nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.sm.Close()
}

// Ref is a parsed short-form secret reference of the shape
// "secret-id" or "secret-id:version".
type Ref struct {
	Secret  string
	Version string
}

// ParseRef parses a short-form secret reference. The version defaults to
// "latest" when omitted.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("secret reference is empty")
	}

	secret, version, found := strings.Cut(s, ":")
	if !found {
		version = "latest"
	}
	if secret == "" || version == "" {
		return Ref{}, fmt.Errorf("malformed secret reference %q", s)
	}
	return Ref{Secret: secret, Version: version}, nil
}

// ResourceName expands the reference into the full Secret Manager resource name.
func (r Ref) ResourceName(projectID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, r.Secret, r.Version)
}

// AccessString fetches a secret payload and returns it as a trimmed string.
func AccessString(ctx context.Context, a Accessor, name string) (string, error) {
	data, err := a.Access(ctx, name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
