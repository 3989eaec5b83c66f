package download

import (
	"context"
	"strconv"
)

// Compile-time check that StreamCopyStrategy implements Strategy.
var _ Strategy = (*StreamCopyStrategy)(nil)

// StreamCopyStrategy treats the URL as a live or progressive stream and
// copies a bounded duration of it with ffmpeg, no re-encoding. Works for
// HLS/DASH manifests and progressive sources that refuse range requests.
type StreamCopyStrategy struct {
	binaryPath string
	maxSeconds int
}

// NewStreamCopyStrategy creates the ffmpeg stream-copy strategy. An empty
// binary path resolves via PATH; maxSeconds <= 0 defaults to 300.
func NewStreamCopyStrategy(binaryPath string, maxSeconds int) *StreamCopyStrategy {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	if maxSeconds <= 0 {
		maxSeconds = 300
	}
	return &StreamCopyStrategy{binaryPath: binaryPath, maxSeconds: maxSeconds}
}

// Name identifies the strategy in attempt logs.
func (s *StreamCopyStrategy) Name() string { return "stream-copy" }

// Fetch copies up to maxSeconds of the stream at url into dest.
func (s *StreamCopyStrategy) Fetch(ctx context.Context, url, dest string) error {
	args := []string{
		"-y",
		"-user_agent", browserUserAgent,
		"-i", url,
		"-t", strconv.Itoa(s.maxSeconds),
		"-c", "copy",
		"-movflags", "+faststart",
		dest,
	}
	return runTool(ctx, s.binaryPath, args)
}
