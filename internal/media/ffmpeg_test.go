package media

import (
	"context"
	"errors"
	"testing"

	"github.com/blanklogo/pipeline/internal/platform"
)

func TestCropFilter(t *testing.T) {
	dims := Dimensions{Width: 1920, Height: 1080}

	tests := []struct {
		name     string
		pixels   int
		position platform.Position
		want     string
	}{
		{"bottom keeps top-left origin", 100, platform.PositionBottom, "crop=1920:980:0:0"},
		{"top shifts the kept region down", 100, platform.PositionTop, "crop=1920:980:0:100"},
		{"left shifts the kept region right", 60, platform.PositionLeft, "crop=1860:1080:60:0"},
		{"right keeps the left edge", 60, platform.PositionRight, "crop=1860:1080:0:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cropFilter(dims, tt.pixels, tt.position)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("cropFilter = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCropFilter_Invalid(t *testing.T) {
	dims := Dimensions{Width: 640, Height: 480}

	tests := []struct {
		name     string
		pixels   int
		position platform.Position
	}{
		{"taller than frame", 480, platform.PositionBottom},
		{"taller than frame from top", 500, platform.PositionTop},
		{"wider than frame", 640, platform.PositionLeft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cropFilter(dims, tt.pixels, tt.position); !errors.Is(err, ErrInvalidCrop) {
				t.Errorf("expected ErrInvalidCrop, got %v", err)
			}
		})
	}
}

func TestCrop_RejectsNonPositivePixels(t *testing.T) {
	p := NewFFmpegProcessor("")
	err := p.Crop(context.Background(), "in.mp4", "out.mp4", 0, platform.PositionBottom)
	if !errors.Is(err, ErrInvalidCrop) {
		t.Errorf("expected ErrInvalidCrop, got %v", err)
	}
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{Args: []string{"-i", "in.mp4"}, Stderr: "No such file", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("FFmpegError must unwrap to the underlying error")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected error message")
	}
}

func TestNewFFmpegProcessor_DefaultPath(t *testing.T) {
	p := NewFFmpegProcessor("")
	if p.ffmpegPath != "ffmpeg" {
		t.Errorf("expected default path ffmpeg, got %s", p.ffmpegPath)
	}
	custom := NewFFmpegProcessor("/opt/bin/ffmpeg")
	if custom.ffmpegPath != "/opt/bin/ffmpeg" {
		t.Errorf("expected custom path, got %s", custom.ffmpegPath)
	}
}
