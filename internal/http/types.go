package http

import (
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// ProcessRequest is the request body for POST /api/v1/process.
type ProcessRequest struct {
	Prompt  string               `json:"prompt"`
	Options orchestrator.Options `json:"options"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Events   bool   `json:"events"`
	Requests int    `json:"requests"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
