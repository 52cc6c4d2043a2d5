package handlers

import (
	"context"

	"github.com/raicho81/fake-mixcloud-plays/internal/version"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version version.Info `json:"version"`
	Loop    string       `json:"loop"`
}

// HealthOutput is the output wrapper for Huma.
type HealthOutput struct {
	Body HealthResponse
}

// HealthHandler reports liveness and the loop state.
type HealthHandler struct {
	loop StatusSource
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(loop StatusSource) *HealthHandler {
	return &HealthHandler{loop: loop}
}

// Handle returns the health status. A terminated loop reports "stopping".
func (h *HealthHandler) Handle(ctx context.Context) *HealthResponse {
	st := h.loop.Status()
	status := "healthy"
	if st.State == "draining" || st.State == "terminated" {
		status = "stopping"
	}
	return &HealthResponse{
		Status:  status,
		Version: version.Get(),
		Loop:    st.State,
	}
}
