package imagehost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDownloader fetches manifest documents over plain HTTP(S). It
// honors http_proxy/HTTP_PROXY via http.DefaultTransport's environment
// proxy discovery, per SPEC_FULL.md §6.
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader creates a downloader with a bounded request timeout.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{Timeout: timeout}}
}

// Get implements Downloader.
func (d *HTTPDownloader) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("imagehost: build request for %s: %w", url, err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagehost: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagehost: fetch %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imagehost: read body from %s: %w", url, err)
	}
	return data, nil
}
