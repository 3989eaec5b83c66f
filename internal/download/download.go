// Package download acquires remote video bytes through an ordered fallback
// chain of strategies. The source platform may block naive HTTP clients, so
// the chain escalates from a cheap direct fetch through command-line
// downloaders and a media extractor up to a headless browser, stopping at
// the first strategy that produces a validated file.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blanklogo/pipeline/internal/job"
)

// browserUserAgent is presented by every strategy that sends HTTP headers.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Strategy is one specific technique for acquiring remote video bytes.
// Fetch writes the video to dest; the chain validates the result.
type Strategy interface {
	// Name identifies the strategy in attempt logs.
	Name() string
	// Fetch downloads the video at url into dest.
	Fetch(ctx context.Context, url, dest string) error
}

// Attempt records one trial of one strategy against one input.
type Attempt struct {
	// Strategy is the strategy name.
	Strategy string
	// StartedAt is when the attempt began.
	StartedAt time.Time
	// Duration is how long the attempt took.
	Duration time.Duration
	// FileSize is the resulting file size in bytes, if any.
	FileSize int64
	// Validated reports whether the file passed signature validation.
	Validated bool
	// Err is the failure, nil on success.
	Err error
}

// AcquisitionError is returned when every strategy has been exhausted.
// It carries the attempt history for diagnostics.
type AcquisitionError struct {
	URL      string
	Attempts []Attempt
}

func (e *AcquisitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "download: all %d strategies failed for %s:", len(e.Attempts), e.URL)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " [%s: ", a.Strategy)
		switch {
		case a.Err != nil:
			b.WriteString(a.Err.Error())
		case !a.Validated:
			fmt.Fprintf(&b, "invalid file (%d bytes)", a.FileSize)
		}
		b.WriteString("]")
	}
	return b.String()
}

// Options configures the Downloader.
type Options struct {
	// MinBytes is the minimum acceptable file size.
	MinBytes int64
	// StrategyTimeout bounds each individual strategy attempt.
	StrategyTimeout time.Duration
}

// DefaultOptions returns the downloader defaults: 100 KiB minimum file size
// and 45 seconds per strategy.
func DefaultOptions() Options {
	return Options{
		MinBytes:        100 << 10,
		StrategyTimeout: 45 * time.Second,
	}
}

// Downloader drives the fallback chain.
type Downloader struct {
	strategies []Strategy
	opts       Options
	logger     *slog.Logger
}

// New creates a Downloader over the given ordered strategies.
func New(strategies []Strategy, opts Options, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinBytes <= 0 {
		opts.MinBytes = DefaultOptions().MinBytes
	}
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = DefaultOptions().StrategyTimeout
	}
	return &Downloader{strategies: strategies, opts: opts, logger: logger}
}

// DefaultChain builds the production strategy ordering, cheapest first.
// The headless browser goes last: it bypasses the most but is slow and
// resource-heavy.
func DefaultChain(cookiesFile string, streamCopyMaxSec int) []Strategy {
	return []Strategy{
		NewHTTPStrategy(nil),
		NewWgetStrategy(""),
		NewCurlStrategy(""),
		NewYtDlpStrategy("", cookiesFile),
		NewStreamCopyStrategy("", streamCopyMaxSec),
		NewBrowserStrategy(),
	}
}

// Result describes a successful acquisition.
type Result struct {
	// Path is the local validated video file.
	Path string
	// Strategy is the name of the strategy that produced it.
	Strategy string
	// Attempts is the full attempt history, including failures.
	Attempts []Attempt
}

// Acquire produces a local, validated video file for the input reference.
// Remote URLs run the fallback chain; already-uploaded files get a single
// local validation with no chain. No partial file survives a failed attempt.
func (d *Downloader) Acquire(ctx context.Context, input job.InputRef, workDir string) (*Result, error) {
	if !input.IsRemote() {
		size, ok := d.validate(input.UploadPath)
		if !ok {
			return nil, fmt.Errorf("download: uploaded file %s failed validation (%d bytes)", input.UploadPath, size)
		}
		return &Result{Path: input.UploadPath, Strategy: "upload"}, nil
	}

	attempts := make([]Attempt, 0, len(d.strategies))
	for i, strat := range d.strategies {
		dest := filepath.Join(workDir, fmt.Sprintf("input_%d.mp4", i))
		attempt := d.try(ctx, strat, input.URL, dest)
		attempts = append(attempts, attempt)

		if attempt.Err == nil && attempt.Validated {
			d.logger.Info("video acquired",
				slog.String("strategy", strat.Name()),
				slog.Int64("bytes", attempt.FileSize),
				slog.Duration("took", attempt.Duration),
			)
			return &Result{Path: dest, Strategy: strat.Name(), Attempts: attempts}, nil
		}

		// Never hand a partial file to the next step.
		_ = os.Remove(dest)

		d.logger.Warn("download strategy failed",
			slog.String("strategy", strat.Name()),
			slog.Int64("bytes", attempt.FileSize),
			slog.Any("error", attempt.Err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &AcquisitionError{URL: input.URL, Attempts: attempts}
}

// try runs one strategy under its timeout and validates the result.
func (d *Downloader) try(ctx context.Context, strat Strategy, url, dest string) Attempt {
	attempt := Attempt{Strategy: strat.Name(), StartedAt: time.Now()}

	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.StrategyTimeout)
	defer cancel()

	attempt.Err = strat.Fetch(attemptCtx, url, dest)
	attempt.Duration = time.Since(attempt.StartedAt)

	if attempt.Err == nil {
		attempt.FileSize, attempt.Validated = d.validate(dest)
	}
	return attempt
}

// plausibleSizeFactor: a file this many times the minimum is accepted even
// without a recognized container signature, since some extractors emit
// fragmented streams whose headers we do not parse.
const plausibleSizeFactor = 10

// validate checks the minimum size threshold and the container signature.
func (d *Downloader) validate(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	size := info.Size()
	if size < d.opts.MinBytes {
		return size, false
	}
	if hasVideoSignature(path) {
		return size, true
	}
	return size, size >= d.opts.MinBytes*plausibleSizeFactor
}

// hasVideoSignature reads the file header and checks for a recognized
// video container: MP4/MOV (ftyp/moov/mdat box), WebM/MKV (EBML), AVI (RIFF).
func hasVideoSignature(path string) bool {
	f, err := os.Open(path) // #nosec G304 - path is produced by this package
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil || n < 12 {
		return false
	}
	header = header[:n]

	// ISO BMFF boxes carry their type at offset 4.
	boxType := string(header[4:8])
	switch boxType {
	case "ftyp", "moov", "mdat", "free", "wide":
		return true
	}

	// EBML magic (WebM, Matroska).
	if header[0] == 0x1A && header[1] == 0x45 && header[2] == 0xDF && header[3] == 0xA3 {
		return true
	}

	// RIFF....AVI .
	if string(header[0:4]) == "RIFF" && n >= 12 && string(header[8:12]) == "AVI " {
		return true
	}

	return false
}
