// Package inpaint provides an HTTP client for the external AI inpainting
// backend that performs quality-mode watermark removal.
package inpaint

// Status represents the status of a backend inpainting task.
type Status string

// Backend task statuses.
const (
	StatusInQueue   Status = "IN_QUEUE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// SubmitOptions contains parameters for submitting an inpainting task.
type SubmitOptions struct {
	// Platform hints the backend at the watermark layout.
	Platform string
	// Mode is the backend processing mode, normally "inpaint".
	Mode string
}

// runRequest represents the request body for the backend's /run endpoint.
type runRequest struct {
	Input runInput `json:"input"`
}

// runInput represents the input field in a run request.
type runInput struct {
	VideoBase64 string `json:"video_base64"`
	Mode        string `json:"mode"`
	Platform    string `json:"platform"`
}

// runResponse represents the response from the backend's /run endpoint.
type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from the backend's /status endpoint.
type statusResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output statusOutput `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// statusOutput represents the output field in a status response.
type statusOutput struct {
	VideoBase64 string `json:"video_base64,omitempty"`
}

// PollResult contains the result of polling a task's status.
type PollResult struct {
	Status      Status
	VideoBase64 string // set only when Status is StatusCompleted
	Error       string // set only when Status is StatusFailed
}
