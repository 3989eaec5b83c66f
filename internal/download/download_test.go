package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blanklogo/pipeline/internal/job"
)

// fakeStrategy writes fixed bytes to dest, or fails.
type fakeStrategy struct {
	name    string
	payload []byte
	err     error
	calls   int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(_ context.Context, _, dest string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, f.payload, 0600)
}

// mp4Payload builds a plausible MP4 header padded to size.
func mp4Payload(size int) []byte {
	b := make([]byte, size)
	copy(b[4:], "ftyp")
	return b
}

func testOptions() Options {
	return Options{MinBytes: 64}
}

func TestAcquire_FirstStrategyWins(t *testing.T) {
	first := &fakeStrategy{name: "http", payload: mp4Payload(128)}
	second := &fakeStrategy{name: "wget", payload: mp4Payload(128)}
	d := New([]Strategy{first, second}, testOptions(), nil)

	res, err := d.Acquire(context.Background(), job.InputRef{URL: "https://example.com/v"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http", res.Strategy)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 0, second.calls, "the chain must short-circuit")

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.EqualValues(t, 128, info.Size())
}

func TestAcquire_FallsThroughFailures(t *testing.T) {
	boom := errors.New("boom")
	chain := []Strategy{
		&fakeStrategy{name: "http", err: boom},
		&fakeStrategy{name: "wget", payload: []byte("tiny")}, // under min size
		&fakeStrategy{name: "curl", payload: mp4Payload(128)},
		&fakeStrategy{name: "yt-dlp", payload: mp4Payload(128)},
	}
	d := New(chain, testOptions(), nil)

	res, err := d.Acquire(context.Background(), job.InputRef{URL: "https://example.com/v"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "curl", res.Strategy)

	// Every failed trial is on the record; the untried one is not.
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, "http", res.Attempts[0].Strategy)
	assert.ErrorIs(t, res.Attempts[0].Err, boom)
	assert.False(t, res.Attempts[1].Validated)
	assert.True(t, res.Attempts[2].Validated)
}

func TestAcquire_Exhaustion(t *testing.T) {
	chain := []Strategy{
		&fakeStrategy{name: "http", err: errors.New("403")},
		&fakeStrategy{name: "wget", err: errors.New("403")},
	}
	d := New(chain, testOptions(), nil)

	_, err := d.Acquire(context.Background(), job.InputRef{URL: "https://example.com/v"}, t.TempDir())
	require.Error(t, err)

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, "https://example.com/v", acqErr.URL)
	assert.Len(t, acqErr.Attempts, 2)
	assert.Contains(t, acqErr.Error(), "all 2 strategies failed")
}

func TestAcquire_RemovesPartialFiles(t *testing.T) {
	workDir := t.TempDir()
	chain := []Strategy{
		&fakeStrategy{name: "http", payload: []byte("partial junk")},
	}
	d := New(chain, testOptions(), nil)

	_, err := d.Acquire(context.Background(), job.InputRef{URL: "https://example.com/v"}, workDir)
	require.Error(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed attempts must not leave files behind")
}

func TestAcquire_UploadSkipsChain(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "uploaded.mp4")
	require.NoError(t, os.WriteFile(path, mp4Payload(128), 0600))

	never := &fakeStrategy{name: "http", payload: mp4Payload(128)}
	d := New([]Strategy{never}, testOptions(), nil)

	res, err := d.Acquire(context.Background(), job.InputRef{UploadPath: path}, workDir)
	require.NoError(t, err)
	assert.Equal(t, "upload", res.Strategy)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, 0, never.calls)
}

func TestAcquire_UploadFailsValidation(t *testing.T) {
	workDir := t.TempDir()
	path := filepath.Join(workDir, "uploaded.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not a video"), 0600))

	d := New(nil, testOptions(), nil)
	_, err := d.Acquire(context.Background(), job.InputRef{UploadPath: path}, workDir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	d := New(nil, Options{MinBytes: 64}, nil)
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		t.Helper()
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0600))
		return p
	}

	ebml := make([]byte, 128)
	copy(ebml, []byte{0x1A, 0x45, 0xDF, 0xA3})

	avi := make([]byte, 128)
	copy(avi, "RIFF")
	copy(avi[8:], "AVI ")

	// No signature but 10x the minimum size: plausible fragment.
	big := make([]byte, 64*plausibleSizeFactor)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"mp4 ftyp", write("a.mp4", mp4Payload(128)), true},
		{"webm ebml", write("b.webm", ebml), true},
		{"riff avi", write("c.avi", avi), true},
		{"undersized", write("d.mp4", mp4Payload(32)), false},
		{"no signature", write("e.bin", make([]byte, 128)), false},
		{"no signature but large", write("f.bin", big), true},
		{"missing file", filepath.Join(dir, "missing.mp4"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := d.validate(tt.path)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDefaultChain_Order(t *testing.T) {
	chain := DefaultChain("", 0)
	require.Len(t, chain, 6)

	names := make([]string, 0, len(chain))
	for _, s := range chain {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"http", "wget", "curl", "yt-dlp", "stream-copy", "browser"}, names)
}
