// Package handlers implements the read-only status endpoints.
package handlers

import (
	"context"
	"log/slog"

	"github.com/raicho81/fake-mixcloud-plays/internal/loop"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
)

// StatusSource exposes the control loop snapshot. Implemented by *loop.Loop.
type StatusSource interface {
	Status() loop.Status
}

// History reads recorded sessions. Implemented by *session.SQLiteStore.
type History interface {
	ListRecent(ctx context.Context, limit int) ([]*session.Record, error)
	Load(ctx context.Context, id string) (*session.Record, error)
}

// StatusInput selects how much history to include.
type StatusInput struct {
	History int `query:"history" minimum:"0" maximum:"100" default:"0" doc:"Number of recent sessions to include"`
}

// StatusResponse is the loop snapshot plus optional session history.
type StatusResponse struct {
	Loop     loop.Status       `json:"loop"`
	Sessions []*session.Record `json:"sessions,omitempty"`
}

// StatusOutput is the output wrapper for Huma.
type StatusOutput struct {
	Body StatusResponse
}

// StatusHandler serves the loop status.
type StatusHandler struct {
	loop    StatusSource
	history History
	logger  *slog.Logger
}

// NewStatusHandler creates a status handler. history may be nil.
func NewStatusHandler(loop StatusSource, history History, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{loop: loop, history: history, logger: logger}
}

// Handle returns the current status. History errors are logged and the
// snapshot is still returned.
func (h *StatusHandler) Handle(ctx context.Context, input *StatusInput) *StatusResponse {
	resp := &StatusResponse{Loop: h.loop.Status()}

	if input != nil && input.History > 0 && h.history != nil {
		records, err := h.history.ListRecent(ctx, input.History)
		if err != nil {
			h.logger.Warn("failed to list session history", "error", err)
		} else {
			resp.Sessions = records
		}
	}
	return resp
}
