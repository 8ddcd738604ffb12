package handlers

import (
	"net/http"
	"time"

	"github.com/ledgerlens/backend/internal/api/response"
)

// StatusHandler reports service status
type StatusHandler struct {
	version   string
	env       string
	startTime time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(version, env string) *StatusHandler {
	return &StatusHandler{
		version:   version,
		env:       env,
		startTime: time.Now(),
	}
}

// StatusResponse is the response for GET /status
type StatusResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Env       string `json:"env"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// Status handles GET /api/v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.Success(w, StatusResponse{
		Service:   "ledgerlens-api",
		Version:   h.version,
		Env:       h.env,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
