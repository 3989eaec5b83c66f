package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// Compile-time check that HTTPStrategy implements Strategy.
var _ Strategy = (*HTTPStrategy)(nil)

// HTTPStrategy is the cheapest acquisition path: a direct GET with a
// realistic browser user agent and a same-origin referer, enough for
// sources that only filter obvious bot clients.
type HTTPStrategy struct {
	client *http.Client
}

// NewHTTPStrategy creates the direct-fetch strategy. A nil client uses a
// default one; the per-attempt timeout comes from the chain's context.
func NewHTTPStrategy(client *http.Client) *HTTPStrategy {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPStrategy{client: client}
}

// Name identifies the strategy in attempt logs.
func (s *HTTPStrategy) Name() string { return "http" }

// Fetch downloads the URL into dest.
func (s *HTTPStrategy) Fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("http strategy: create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "video/*,*/*;q=0.8")
	if ref := originReferer(rawURL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http strategy: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http strategy: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest) // #nosec G304 - dest is produced by this package
	if err != nil {
		return fmt.Errorf("http strategy: create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("http strategy: write body: %w", err)
	}
	return f.Close()
}

// originReferer derives a same-origin referer from the target URL.
func originReferer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
