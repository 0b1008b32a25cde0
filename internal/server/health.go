// Package server implements health check handlers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// PipelineRunner reports whether the ingestion flow is consuming.
type PipelineRunner interface {
	Running() bool
}

// PipelineHealth adapts the pipeline to the HealthChecker interface.
type PipelineHealth struct {
	pipeline PipelineRunner
}

// NewPipelineHealth creates a health checker backed by the pipeline.
func NewPipelineHealth(pipeline PipelineRunner) *PipelineHealth {
	return &PipelineHealth{pipeline: pipeline}
}

// Liveness reports process liveness. The process is alive as long as it can
// answer; a stopped pipeline is a readiness problem, not a liveness one.
func (h *PipelineHealth) Liveness() bool {
	return true
}

// Readiness reports whether the pipeline is consuming.
func (h *PipelineHealth) Readiness(ctx context.Context) bool {
	return h.pipeline.Running()
}

// GetStatus returns per-component status strings.
func (h *PipelineHealth) GetStatus() map[string]string {
	status := "stopped"
	if h.pipeline.Running() {
		status = "consuming"
	}
	return map[string]string{
		"pipeline": status,
	}
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode liveness response", "error", err)
		}
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode readiness response", "error", err)
		}
	}
}
