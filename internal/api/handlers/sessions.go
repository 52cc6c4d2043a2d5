package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/raicho81/fake-mixcloud-plays/internal/session"
)

// GetSessionInput identifies a recorded session.
type GetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// GetSessionOutput is the output wrapper for Huma.
type GetSessionOutput struct {
	Body *session.Record
}

// SessionHandler looks up recorded sessions.
type SessionHandler struct {
	history History
}

// NewSessionHandler creates a session lookup handler. history may be nil.
func NewSessionHandler(history History) *SessionHandler {
	return &SessionHandler{history: history}
}

// Get returns one session from the history store.
func (h *SessionHandler) Get(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	if h.history == nil {
		return nil, huma.Error404NotFound("session history is disabled")
	}

	rec, err := h.history.Load(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load session", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &GetSessionOutput{Body: rec}, nil
}
