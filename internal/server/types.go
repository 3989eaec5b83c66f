// Package server provides the HTTP API for the watermark-removal pipeline.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// UserID identifies the credit account the job is billed against.
	UserID string `json:"user_id" validate:"required"`
	// URL is the remote video to acquire. Exactly one of URL and
	// UploadPath must be set.
	URL string `json:"url" validate:"omitempty,url"`
	// UploadPath is a server-local file that skips acquisition.
	UploadPath string `json:"upload_path"`
	// Platform selects a crop preset (e.g. "sora", "tiktok").
	Platform string `json:"platform"`
	// Mode is the processing mode: "crop" or "inpaint".
	Mode string `json:"mode" validate:"required,oneof=crop inpaint"`
	// CropPixels overrides the preset border size.
	CropPixels int `json:"crop_pixels" validate:"omitempty,min=1,max=2160"`
	// CropPosition overrides the preset border edge.
	CropPosition string `json:"crop_position" validate:"omitempty,oneof=top bottom left right"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// CreditsReserved is the hold placed against the user's balance.
	CreditsReserved int `json:"credits_reserved"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	Platform       string     `json:"platform,omitempty"`
	Mode           string     `json:"mode"`
	CropPixels     int        `json:"crop_pixels"`
	CropPosition   string     `json:"crop_position"`
	RetryCount     int        `json:"retry_count"`
	StrategyUsed   string     `json:"strategy_used,omitempty"`
	OutputRef      string     `json:"output_ref,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreditsCharged int        `json:"credits_charged"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// CapabilitiesResponse describes what the service can do, for clients that
// build their request dynamically.
type CapabilitiesResponse struct {
	Modes             []string `json:"modes"`
	CropPositions     []string `json:"crop_positions"`
	Platforms         []string `json:"platforms"`
	DefaultCropPixels int      `json:"default_crop_pixels"`
	MaxCropPixels     int      `json:"max_crop_pixels"`
	JobCreditCost     int      `json:"job_credit_cost"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
