package geography

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Fetcher retrieves raw dataset files. Tests substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, ds Dataset) (io.ReadCloser, error)
}

// Downloader fetches datasets over HTTP, applying the provider-specific
// authentication scheme and extracting zip members where needed.
type Downloader struct {
	httpClient *http.Client
	// GeoNamesUser and GeoNamesPassword authenticate GeoNames downloads.
	GeoNamesUser     string
	GeoNamesPassword string
	// MaxMindLicenseKey authenticates MaxMind downloads.
	MaxMindLicenseKey string
}

// NewDownloader creates a Downloader with the given credentials.
func NewDownloader(geoUser, geoPass, maxmindKey string) *Downloader {
	return &Downloader{
		httpClient:        &http.Client{Timeout: 10 * time.Minute},
		GeoNamesUser:      geoUser,
		GeoNamesPassword:  geoPass,
		MaxMindLicenseKey: maxmindKey,
	}
}

// SetHTTPClient overrides the underlying HTTP client, used by tests.
func (d *Downloader) SetHTTPClient(h *http.Client) {
	d.httpClient = h
}

// Fetch downloads one dataset and returns a reader over its data file. For
// zip downloads the matching member is extracted in memory.
func (d *Downloader) Fetch(ctx context.Context, ds Dataset) (io.ReadCloser, error) {
	endpoint := ds.URL
	if ds.Source == SourceMaxMind {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse url for %s: %w", ds.Table, err)
		}
		q := u.Query()
		q.Set("license_key", d.MaxMindLicenseKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", ds.Table, err)
	}
	if ds.Source == SourceGeoNames && d.GeoNamesUser != "" {
		req.SetBasicAuth(d.GeoNamesUser, d.GeoNamesPassword)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ds.Table, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: status %d", ds.Table, resp.StatusCode)
	}

	if ds.ZipMember == nil {
		return resp.Body, nil
	}
	defer resp.Body.Close()

	return extractZipMember(resp.Body, ds)
}

// extractZipMember reads the archive fully and opens the first member whose
// base name matches the dataset's pattern.
func extractZipMember(r io.Reader, ds Dataset) (io.ReadCloser, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read archive for %s: %w", ds.Table, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive for %s: %w", ds.Table, err)
	}

	for _, f := range zr.File {
		if ds.ZipMember.MatchString(f.Name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("archive for %s has no member matching %s", ds.Table, ds.ZipMember)
}
