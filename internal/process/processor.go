// Package process turns a validated input video into an output video,
// dispatching on processing mode: a local ffmpeg crop pass, or delegation
// to the external AI inpainting backend. Each mode is a separate
// implementation behind one interface so it can be tested independently.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blanklogo/pipeline/internal/inpaint"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/media"
	"github.com/blanklogo/pipeline/internal/platform"
)

// Error wraps a processing failure with its classification, so the
// user-facing message can distinguish a pipeline failure from an AI
// backend failure.
type Error struct {
	Kind job.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("process: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request carries everything needed to process one video.
type Request struct {
	// InputPath is the local validated input file.
	InputPath string
	// OutputPath is where the result is written.
	OutputPath string
	// Mode selects crop or inpaint.
	Mode job.ProcessingMode
	// Platform is the source platform preset identifier.
	Platform string
	// CropPixels and CropPosition are the crop parameters; zero values
	// fall back to the platform preset, then the global default.
	CropPixels   int
	CropPosition platform.Position
}

// Processor produces an output video from a processing request.
type Processor interface {
	Process(ctx context.Context, req Request) error
}

// Compile-time checks.
var (
	_ Processor = (*CropProcessor)(nil)
	_ Processor = (*InpaintProcessor)(nil)
	_ Processor = (*Dispatcher)(nil)
)

// CropProcessor removes the watermark by trimming a fixed border locally.
// Purely local and fast.
type CropProcessor struct {
	ffmpeg *media.FFmpegProcessor
	logger *slog.Logger
}

// NewCropProcessor creates the crop-mode processor.
func NewCropProcessor(ffmpeg *media.FFmpegProcessor, logger *slog.Logger) *CropProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CropProcessor{ffmpeg: ffmpeg, logger: logger}
}

// Process crops the input and writes the result to the output path.
func (p *CropProcessor) Process(ctx context.Context, req Request) error {
	pixels, position := platform.Resolve(req.Platform, req.CropPixels, req.CropPosition)

	p.logger.Info("cropping video",
		slog.String("input", req.InputPath),
		slog.Int("pixels", pixels),
		slog.String("position", string(position)),
	)

	if err := p.ffmpeg.Crop(ctx, req.InputPath, req.OutputPath, pixels, position); err != nil {
		return &Error{Kind: job.ErrorKindLocalTransform, Err: err}
	}
	return nil
}

// InpaintProcessor delegates watermark removal to the external AI backend:
// it uploads the input, polls for completion, and downloads the result.
type InpaintProcessor struct {
	client       inpaint.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewInpaintProcessor creates the inpaint-mode processor.
func NewInpaintProcessor(client inpaint.Client, pollInterval time.Duration, logger *slog.Logger) *InpaintProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &InpaintProcessor{client: client, pollInterval: pollInterval, logger: logger}
}

// Process runs the inpaint round-trip against the backend.
func (p *InpaintProcessor) Process(ctx context.Context, req Request) error {
	p.logger.Info("delegating to inpaint backend",
		slog.String("input", req.InputPath),
		slog.String("platform", req.Platform),
	)

	opts := inpaint.SubmitOptions{Platform: req.Platform, Mode: "inpaint"}
	if err := inpaint.ProcessFile(ctx, p.client, req.InputPath, req.OutputPath, opts, p.pollInterval); err != nil {
		return &Error{Kind: job.ErrorKindInpaintBackend, Err: err}
	}
	return nil
}

// Dispatcher routes a request to the processor for its mode.
type Dispatcher struct {
	crop    Processor
	inpaint Processor
}

// NewDispatcher creates the mode dispatcher.
func NewDispatcher(crop, inpaint Processor) *Dispatcher {
	return &Dispatcher{crop: crop, inpaint: inpaint}
}

// Process dispatches on the request's processing mode.
func (d *Dispatcher) Process(ctx context.Context, req Request) error {
	switch req.Mode {
	case job.ModeCrop:
		return d.crop.Process(ctx, req)
	case job.ModeInpaint:
		return d.inpaint.Process(ctx, req)
	default:
		return &Error{Kind: job.ErrorKindLocalTransform, Err: fmt.Errorf("unknown processing mode %q", req.Mode)}
	}
}
