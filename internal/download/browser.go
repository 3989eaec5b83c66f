package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Compile-time check that BrowserStrategy implements Strategy.
var _ Strategy = (*BrowserStrategy)(nil)

// ErrNoVideoResponse is returned when the rendered page produced no network
// response that looks like a video payload.
var ErrNoVideoResponse = errors.New("download: no video response observed")

// BrowserStrategy is the last resort: it renders the page in headless
// Chrome, observes network responses for content whose type or URL pattern
// indicates a video payload, and fetches the best candidate directly. Slow
// and resource-heavy, but it defeats bot checks that require a real
// JavaScript environment.
type BrowserStrategy struct {
	// settleTime is how long to let the page load and fire media requests.
	settleTime time.Duration
	client     *http.Client
}

// NewBrowserStrategy creates the headless-browser strategy.
func NewBrowserStrategy() *BrowserStrategy {
	return &BrowserStrategy{
		settleTime: 8 * time.Second,
		client:     &http.Client{},
	}
}

// Name identifies the strategy in attempt logs.
func (s *BrowserStrategy) Name() string { return "browser" }

// videoCandidate is one observed network response that may be the video.
type videoCandidate struct {
	url    string
	length int64
}

// Fetch renders the page at url and downloads the best video candidate
// into dest.
func (s *BrowserStrategy) Fetch(ctx context.Context, pageURL, dest string) error {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(browserUserAgent),
			chromedp.Flag("mute-audio", true),
		)...,
	)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var mu sync.Mutex
	var candidates []videoCandidate

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if !looksLikeVideo(resp.Response.MimeType, resp.Response.URL) {
			return
		}
		mu.Lock()
		candidates = append(candidates, videoCandidate{
			url:    resp.Response.URL,
			length: int64(resp.Response.EncodedDataLength),
		})
		mu.Unlock()
	})

	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(s.settleTime),
	)
	if err != nil {
		return fmt.Errorf("browser strategy: render page: %w", err)
	}

	mu.Lock()
	best := bestCandidate(candidates)
	mu.Unlock()
	if best == "" {
		return ErrNoVideoResponse
	}

	return s.fetchDirect(ctx, best, pageURL, dest)
}

// looksLikeVideo decides whether a network response carries video bytes,
// by content type or URL pattern.
func looksLikeVideo(mimeType, rawURL string) bool {
	if strings.HasPrefix(mimeType, "video/") {
		return true
	}
	if mimeType == "application/vnd.apple.mpegurl" || mimeType == "application/x-mpegURL" {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, pat := range []string{".mp4", ".webm", ".m3u8", ".mpd", "/video/"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// bestCandidate prefers the largest observed payload.
func bestCandidate(candidates []videoCandidate) string {
	var best videoCandidate
	for _, c := range candidates {
		if c.length >= best.length {
			best = c
		}
	}
	return best.url
}

// fetchDirect downloads the discovered media URL with the page as referer.
func (s *BrowserStrategy) fetchDirect(ctx context.Context, mediaURL, pageURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("browser strategy: create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", pageURL)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("browser strategy: fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("browser strategy: media status %d", resp.StatusCode)
	}

	f, err := os.Create(dest) // #nosec G304 - dest is produced by this package
	if err != nil {
		return fmt.Errorf("browser strategy: create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("browser strategy: write body: %w", err)
	}
	return f.Close()
}
