package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blanklogo/pipeline/internal/credit"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/notify"
)

// captureNotifier records events instead of delivering them.
type captureNotifier struct {
	events []notify.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.events = append(n.events, ev)
	return nil
}

type testEnv struct {
	handlers *Handlers
	store    *job.MemoryStore
	ledger   *credit.MemoryLedger
	notifier *captureNotifier
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := job.NewMemoryStore(3, time.Second)
	ledger := credit.NewMemoryLedger()
	notifier := &captureNotifier{}
	h := NewHandlers(store, ledger, notifier, 1, logger)
	return &testEnv{
		handlers: h,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		router:   NewRouter(h, logger, DefaultConfig()),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/capabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CapabilitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"crop", "inpaint"}, resp.Modes)
	assert.Contains(t, resp.Platforms, "sora")
	assert.Equal(t, 100, resp.DefaultCropPixels)
	assert.Equal(t, 1, resp.JobCreditCost)
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	rec := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID:   "user-1",
		URL:      "https://example.com/video.mp4",
		Platform: "sora",
		Mode:     "crop",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(job.StatusQueued), resp.Status)
	assert.Equal(t, 1, resp.CreditsReserved)

	// The preset resolved at creation time is observable on the job.
	stored, err := env.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.CropPixels)
	assert.EqualValues(t, "bottom", stored.CropPosition)
	assert.NotEmpty(t, stored.ReservationID)

	// The hold is visible in the ledger.
	balance, err := env.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestCreateJob_CropOverrides(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	rec := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID:       "user-1",
		URL:          "https://example.com/video.mp4",
		Platform:     "tiktok",
		Mode:         "crop",
		CropPixels:   64,
		CropPosition: "top",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	stored, err := env.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 64, stored.CropPixels)
	assert.EqualValues(t, "top", stored.CropPosition)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	tests := []struct {
		name string
		req  CreateJobRequest
	}{
		{"missing user", CreateJobRequest{URL: "https://example.com/v", Mode: "crop"}},
		{"missing mode", CreateJobRequest{UserID: "user-1", URL: "https://example.com/v"}},
		{"bad mode", CreateJobRequest{UserID: "user-1", URL: "https://example.com/v", Mode: "paint"}},
		{"bad position", CreateJobRequest{UserID: "user-1", URL: "https://example.com/v", Mode: "crop", CropPosition: "center"}},
		{"no input at all", CreateJobRequest{UserID: "user-1", Mode: "crop"}},
		{"both inputs", CreateJobRequest{UserID: "user-1", URL: "https://example.com/v", UploadPath: "/tmp/v.mp4", Mode: "crop"}},
		{"not a url", CreateJobRequest{UserID: "user-1", URL: "::::", Mode: "crop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/jobs", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	// Validation failures never touch the balance.
	balance, _ := env.ledger.Balance(context.Background(), "user-1")
	assert.Equal(t, 5, balance)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID: "broke-user",
		URL:    "https://example.com/video.mp4",
		Mode:   "crop",
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INSUFFICIENT_CREDITS", resp.Code)
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	created := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID: "user-1",
		URL:    "https://example.com/video.mp4",
		Mode:   "inpaint",
	})
	var createResp CreateJobResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createResp))

	rec := env.do(t, http.MethodGet, "/jobs/"+createResp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, createResp.ID, resp.ID)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "inpaint", resp.Mode)
	assert.Equal(t, string(job.StatusQueued), resp.Status)
	assert.Nil(t, resp.CompletedAt)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
			UserID: "user-1",
			URL:    "https://example.com/video.mp4",
			Mode:   "crop",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 3)
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	created := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID: "user-1",
		URL:    "https://example.com/video.mp4",
		Mode:   "crop",
	})
	var createResp CreateJobResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createResp))

	rec := env.do(t, http.MethodDelete, "/jobs/"+createResp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(job.StatusCanceled), resp.Status)

	// The hold is returned and the terminal event dispatched.
	balance, _ := env.ledger.Balance(context.Background(), "user-1")
	assert.Equal(t, 5, balance)
	require.Len(t, env.notifier.events, 1)
	assert.Equal(t, job.StatusCanceled, env.notifier.events[0].Status)
}

func TestCancelJob_NotQueued(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Grant("user-1", 5)

	created := env.do(t, http.MethodPost, "/jobs", CreateJobRequest{
		UserID: "user-1",
		URL:    "https://example.com/video.mp4",
		Mode:   "crop",
	})
	var createResp CreateJobResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createResp))

	// A worker grabs the job before the cancel arrives.
	_, err := env.store.Claim(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)

	rec := env.do(t, http.MethodDelete, "/jobs/"+createResp.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_CANCELABLE", resp.Code)
}

func TestCancelJob_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
