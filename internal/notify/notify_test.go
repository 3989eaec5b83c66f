package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blanklogo/pipeline/internal/job"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	ev := Event{
		JobID:     "job-1",
		UserID:    "user-1",
		Status:    job.StatusSucceeded,
		OutputRef: "https://bucket.s3.eu-west-1.amazonaws.com/job-1.mp4",
	}
	require.NoError(t, n.Notify(context.Background(), ev))
	assert.Equal(t, ev, got)
}

func TestWebhookNotifier_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	n.backoff = time.Millisecond

	require.NoError(t, n.Notify(context.Background(), Event{JobID: "job-1"}))
	assert.EqualValues(t, 2, calls.Load())
}

func TestWebhookNotifier_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	n.backoff = time.Millisecond

	err := n.Notify(context.Background(), Event{JobID: "job-1", Status: job.StatusFailed})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load(), "initial attempt plus two retries")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), Event{JobID: "job-1", Status: job.StatusTimedOut}))
}
