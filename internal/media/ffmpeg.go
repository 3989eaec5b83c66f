// Package media performs local video transforms with the ffmpeg CLI.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/blanklogo/pipeline/internal/platform"
)

// Static errors for media operations.
var (
	// ErrInvalidCrop is returned when the crop width is not positive or
	// exceeds the source dimension.
	ErrInvalidCrop = errors.New("media: invalid crop parameters")
	// ErrFFprobeExecution is returned when ffprobe fails.
	ErrFFprobeExecution = errors.New("media: ffprobe execution failed")
)

// FFmpegProcessor runs local transforms using the ffmpeg CLI.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor. Empty paths resolve
// "ffmpeg" and "ffprobe" via PATH.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: "ffprobe"}
}

// Dimensions holds a video's pixel size.
type Dimensions struct {
	Width  int
	Height int
}

// Probe returns the video stream dimensions of a media file.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Dimensions, error) {
	// #nosec G204 - binary path is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Dimensions{}, fmt.Errorf("media: ffprobe cancelled: %w", ctx.Err())
		}
		return Dimensions{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var d Dimensions
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%dx%d", &d.Width, &d.Height); err != nil {
		return Dimensions{}, fmt.Errorf("media: parse dimensions: %w", err)
	}
	return d, nil
}

// Crop trims the given number of pixels from one border of the video and
// writes the result to dst. Audio is stream-copied; the moov atom is moved
// up front so the artifact streams immediately after publish.
func (p *FFmpegProcessor) Crop(ctx context.Context, src, dst string, pixels int, position platform.Position) error {
	if pixels <= 0 {
		return fmt.Errorf("%w: pixels=%d", ErrInvalidCrop, pixels)
	}

	dims, err := p.Probe(ctx, src)
	if err != nil {
		return err
	}

	filter, err := cropFilter(dims, pixels, position)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-i", src,
		"-vf", filter,
		"-c:a", "copy",
		"-movflags", "+faststart",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// cropFilter builds the ffmpeg crop expression for trimming pixels from
// one border. crop=w:h:x:y where x,y is the top-left corner kept.
func cropFilter(d Dimensions, pixels int, position platform.Position) (string, error) {
	switch position {
	case platform.PositionTop, platform.PositionBottom:
		if pixels >= d.Height {
			return "", fmt.Errorf("%w: %dpx from %s of %dx%d", ErrInvalidCrop, pixels, position, d.Width, d.Height)
		}
	case platform.PositionLeft, platform.PositionRight:
		if pixels >= d.Width {
			return "", fmt.Errorf("%w: %dpx from %s of %dx%d", ErrInvalidCrop, pixels, position, d.Width, d.Height)
		}
	}

	switch position {
	case platform.PositionTop:
		return fmt.Sprintf("crop=%d:%d:0:%d", d.Width, d.Height-pixels, pixels), nil
	case platform.PositionBottom:
		return fmt.Sprintf("crop=%d:%d:0:0", d.Width, d.Height-pixels), nil
	case platform.PositionLeft:
		return fmt.Sprintf("crop=%d:%d:%d:0", d.Width-pixels, d.Height, pixels), nil
	case platform.PositionRight:
		return fmt.Sprintf("crop=%d:%d:0:0", d.Width-pixels, d.Height), nil
	default:
		return fmt.Sprintf("crop=%d:%d:0:0", d.Width, d.Height-pixels), nil
	}
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - binary path is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("media: ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including stderr.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("media: ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
