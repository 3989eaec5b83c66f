package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/blanklogo/pipeline/internal/credit"
	"github.com/blanklogo/pipeline/internal/job"
	"github.com/blanklogo/pipeline/internal/notify"
	"github.com/blanklogo/pipeline/internal/platform"
)

// maxCropPixels bounds user overrides to something a real video can contain.
const maxCropPixels = 2160

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	store      job.Store
	ledger     credit.Ledger
	notifier   notify.Notifier
	validator  *validator.Validate
	logger     *slog.Logger
	creditCost int
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store job.Store, ledger credit.Ledger, notifier notify.Notifier, creditCost int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if creditCost <= 0 {
		creditCost = 1
	}
	return &Handlers{
		store:      store,
		ledger:     ledger,
		notifier:   notifier,
		validator:  validator.New(),
		logger:     logger,
		creditCost: creditCost,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Capabilities handles GET /capabilities requests.
func (h *Handlers) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CapabilitiesResponse{
		Modes:             []string{string(job.ModeCrop), string(job.ModeInpaint)},
		CropPositions:     []string{string(platform.PositionTop), string(platform.PositionBottom), string(platform.PositionLeft), string(platform.PositionRight)},
		Platforms:         platform.Names(),
		DefaultCropPixels: platform.DefaultCropPixels,
		MaxCropPixels:     maxCropPixels,
		JobCreditCost:     h.creditCost,
	})
}

// CreateJob handles POST /jobs requests. It resolves the effective crop
// parameters, reserves the user's credits, and enqueues the job. No
// processing happens on the request path.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if (req.URL == "") == (req.UploadPath == "") {
		writeError(w, http.StatusBadRequest, "exactly one of url and upload_path must be set", "VALIDATION_ERROR")
		return
	}

	// Reserve credits before the job exists so a job in the queue always
	// has its hold.
	reservationID, err := h.ledger.Reserve(r.Context(), req.UserID, h.creditCost)
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) {
			writeError(w, http.StatusPaymentRequired, "insufficient credits", "INSUFFICIENT_CREDITS")
			return
		}
		h.logger.Error("credit reservation failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reserve credits", "RESERVATION_FAILED")
		return
	}

	pixels, position := platform.Resolve(req.Platform, req.CropPixels, platform.Position(req.CropPosition))

	j := job.New(req.UserID, job.InputRef{URL: req.URL, UploadPath: req.UploadPath}, req.Platform, job.ProcessingMode(req.Mode))
	j.CropPixels = pixels
	j.CropPosition = position
	j.CreditsReserved = h.creditCost
	j.ReservationID = reservationID

	if err := h.store.Create(r.Context(), j); err != nil {
		// The hold must not outlive the job it was placed for.
		if relErr := h.ledger.Release(r.Context(), reservationID); relErr != nil {
			h.logger.Error("orphaned reservation release failed",
				slog.String("reservation_id", reservationID),
				slog.String("error", relErr.Error()),
			)
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", j.ID),
		slog.String("mode", string(j.Mode)),
		slog.Int("crop_pixels", pixels),
		slog.String("crop_position", string(position)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		CreditsReserved: j.CreditsReserved,
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob handles DELETE /jobs/{id} requests. Cancellation is honored
// only while the job is still queued; anything later is already racing a
// worker and runs to completion.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	canceled, err := h.store.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrNotCancelable):
			writeError(w, http.StatusConflict, "job is no longer queued", "NOT_CANCELABLE")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	if canceled.ReservationID != "" {
		if err := h.ledger.Release(r.Context(), canceled.ReservationID); err != nil && !errors.Is(err, credit.ErrReservationNotFound) {
			h.logger.Error("reservation release failed",
				slog.String("job_id", canceled.ID),
				slog.String("reservation_id", canceled.ReservationID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := h.notifier.Notify(r.Context(), notify.Event{
		JobID:  canceled.ID,
		UserID: canceled.UserID,
		Status: canceled.Status,
	}); err != nil {
		h.logger.Error("cancel notification failed",
			slog.String("job_id", canceled.ID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("job canceled", slog.String("job_id", canceled.ID))
	writeJSON(w, http.StatusOK, toJobResponse(canceled))
}

// toJobResponse maps a domain job onto the public DTO.
func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		UserID:         j.UserID,
		Status:         string(j.Status),
		Platform:       j.Platform,
		Mode:           string(j.Mode),
		CropPixels:     j.CropPixels,
		CropPosition:   string(j.CropPosition),
		RetryCount:     j.RetryCount,
		StrategyUsed:   j.StrategyUsed,
		OutputRef:      j.OutputRef,
		ErrorKind:      string(j.ErrorKind),
		ErrorMessage:   j.ErrorMessage,
		CreditsCharged: j.CreditsCharged,
		CreatedAt:      j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
