package download

import (
	"context"
	"errors"
	"fmt"
)

// Compile-time check that YtDlpStrategy implements Strategy.
var _ Strategy = (*YtDlpStrategy)(nil)

// YtDlpStrategy uses yt-dlp, which understands the source platform's page
// structure rather than expecting a direct file URL. When the plain attempt
// fails it retries once with extraction hints: TLS impersonation of a real
// browser and, when configured, an authenticated-session cookies file.
type YtDlpStrategy struct {
	binaryPath  string
	cookiesFile string
}

// NewYtDlpStrategy creates the yt-dlp strategy. An empty binary path
// resolves via PATH; an empty cookies file disables the cookie hint.
func NewYtDlpStrategy(binaryPath, cookiesFile string) *YtDlpStrategy {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlpStrategy{binaryPath: binaryPath, cookiesFile: cookiesFile}
}

// Name identifies the strategy in attempt logs.
func (s *YtDlpStrategy) Name() string { return "yt-dlp" }

// Fetch downloads the URL into dest, escalating to extraction hints if the
// plain invocation fails.
func (s *YtDlpStrategy) Fetch(ctx context.Context, url, dest string) error {
	plainErr := runTool(ctx, s.binaryPath, s.args(url, dest, false))
	if plainErr == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
		return plainErr
	}

	if hintedErr := runTool(ctx, s.binaryPath, s.args(url, dest, true)); hintedErr != nil {
		return fmt.Errorf("plain: %v; with hints: %w", plainErr, hintedErr)
	}
	return nil
}

func (s *YtDlpStrategy) args(url, dest string, hints bool) []string {
	args := []string{
		"-f", "b",
		"--no-warnings",
		"--no-playlist",
		"--user-agent", browserUserAgent,
		"-o", dest,
	}
	if hints {
		args = append(args, "--impersonate", "chrome")
		if s.cookiesFile != "" {
			args = append(args, "--cookies", s.cookiesFile)
		}
	}
	return append(args, url)
}
