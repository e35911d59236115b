// Package gcs uploads job artifacts (CSV extracts, run logs) to Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

// Uploader writes objects to Cloud Storage. Tests substitute a fake.
type Uploader interface {
	Upload(ctx context.Context, bucket, object string, r io.Reader, contentType string) error
	Close() error
}

// Client is the Cloud Storage backed Uploader.
type Client struct {
	gcs *storage.Client
}

// NewClient creates a Cloud Storage client using ambient credentials.
func NewClient(ctx context.Context) (*Client, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{gcs: c}, nil
}

// Upload streams r into bucket/object. The write is committed on Close; a
// failed write leaves no partial object behind.
func (c *Client) Upload(ctx context.Context, bucket, object string, r io.Reader, contentType string) error {
	w := c.gcs.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	return c.gcs.Close()
}

// RunObjectName builds a date-partitioned object name for a job run artifact,
// e.g. "okta-sync/2026/08/31/okta-sync-20260831T061500Z.log".
func RunObjectName(jobName string, ts time.Time, ext string) string {
	ts = ts.UTC()
	return path.Join(
		jobName,
		ts.Format("2006/01/02"),
		fmt.Sprintf("%s-%s%s", jobName, ts.Format("20060102T150405Z"), ext),
	)
}
