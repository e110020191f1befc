package tileresource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPFetcher fetches tileset resource PNGs from a configured base URL,
// mirroring the HTTPClient-injection pattern used for external fetches
// elsewhere in this family of tools (e.g. the Overpass client config).
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher with a default client when none
// is supplied.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{BaseURL: baseURL, Client: client}
}

// Fetch retrieves "{BaseURL}/{resourceName}.png".
func (f *HTTPFetcher) Fetch(ctx context.Context, resourceName string) ([]byte, error) {
	url := strings.TrimRight(f.BaseURL, "/") + "/" + resourceName + ".png"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body for %s: %w", url, err)
	}
	return data, nil
}
