package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Check the directory store
	if h.data != nil {
		dataStart := time.Now()
		if err := h.data.Ping(ctx); err != nil {
			checks["store"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["store"] = Check{Status: "pass", Latency: time.Since(dataStart).String()}
		}
	} else {
		checks["store"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Check the message log
	if h.log != nil {
		logStart := time.Now()
		if err := h.log.Ping(ctx); err != nil {
			checks["log"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["log"] = Check{Status: "pass", Latency: time.Since(logStart).String()}
		}
	} else {
		checks["log"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "chatd",
		Version: version,
	})
}
