package process

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blanklogo/pipeline/internal/inpaint"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/media"
)

// recordingProcessor captures the request it was dispatched.
type recordingProcessor struct {
	called bool
	req    Request
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, req Request) error {
	p.called = true
	p.req = req
	return p.err
}

func TestDispatcher_RoutesByMode(t *testing.T) {
	crop := &recordingProcessor{}
	inp := &recordingProcessor{}
	d := NewDispatcher(crop, inp)

	err := d.Process(context.Background(), Request{Mode: job.ModeCrop, InputPath: "in.mp4"})
	require.NoError(t, err)
	assert.True(t, crop.called)
	assert.False(t, inp.called)

	crop.called = false
	err = d.Process(context.Background(), Request{Mode: job.ModeInpaint, InputPath: "in.mp4"})
	require.NoError(t, err)
	assert.True(t, inp.called)
	assert.False(t, crop.called)
}

func TestDispatcher_UnknownMode(t *testing.T) {
	d := NewDispatcher(&recordingProcessor{}, &recordingProcessor{})

	err := d.Process(context.Background(), Request{Mode: "paint-over"})
	require.Error(t, err)

	var procErr *Error
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, job.ErrorKindLocalTransform, procErr.Kind)
}

// fakeInpaintClient drives ProcessFile without a network.
type fakeInpaintClient struct {
	submitErr error
	result    inpaint.PollResult
}

func (c *fakeInpaintClient) Submit(context.Context, string, inpaint.SubmitOptions) (string, error) {
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "task-1", nil
}

func (c *fakeInpaintClient) Poll(context.Context, string) (inpaint.PollResult, error) {
	return c.result, nil
}

func TestInpaintProcessor_Success(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	dst := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("input"), 0600))

	output := []byte("inpainted")
	client := &fakeInpaintClient{result: inpaint.PollResult{
		Status:      inpaint.StatusCompleted,
		VideoBase64: base64.StdEncoding.EncodeToString(output),
	}}

	p := NewInpaintProcessor(client, time.Millisecond, nil)
	err := p.Process(context.Background(), Request{InputPath: src, OutputPath: dst, Platform: "sora"})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, output, got)
}

func TestInpaintProcessor_BackendFailureKind(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(src, []byte("input"), 0600))

	client := &fakeInpaintClient{submitErr: errors.New("connection refused")}
	p := NewInpaintProcessor(client, time.Millisecond, nil)

	err := p.Process(context.Background(), Request{InputPath: src, OutputPath: filepath.Join(dir, "out.mp4")})
	require.Error(t, err)

	var procErr *Error
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, job.ErrorKindInpaintBackend, procErr.Kind)
	assert.ErrorIs(t, err, client.submitErr)
}

func TestCropProcessor_FailureKind(t *testing.T) {
	// A missing input makes the probe fail, which must come back
	// classified as a local transform error.
	p := NewCropProcessor(media.NewFFmpegProcessor(""), nil)

	err := p.Process(context.Background(), Request{
		InputPath:  filepath.Join(t.TempDir(), "missing.mp4"),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Mode:       job.ModeCrop,
		Platform:   "sora",
	})
	require.Error(t, err)

	var procErr *Error
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, job.ErrorKindLocalTransform, procErr.Kind)
}
