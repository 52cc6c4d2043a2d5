package handlers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/raicho81/fake-mixcloud-plays/internal/loop"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
)

type fixedStatus loop.Status

func (f fixedStatus) Status() loop.Status { return loop.Status(f) }

type fakeHistory struct {
	records []*session.Record
	err     error
	limit   int
}

func (f *fakeHistory) Load(ctx context.Context, id string) (*session.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) ListRecent(ctx context.Context, limit int) ([]*session.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"init", "healthy"},
		{"running", "healthy"},
		{"draining", "stopping"},
		{"terminated", "stopping"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			h := NewHealthHandler(fixedStatus{State: tt.state})
			resp := h.Handle(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Status = %q, want %q", resp.Status, tt.want)
			}
			if resp.Loop != tt.state {
				t.Errorf("Loop = %q, want %q", resp.Loop, tt.state)
			}
			if resp.Version.Version == "" {
				t.Error("Version should be set")
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	ctx := context.Background()
	st := fixedStatus{State: "running", Cycles: 4, Refreshes: 4, Starts: 1, SessionID: "abc"}
	records := []*session.Record{{ID: "abc", State: "active"}}

	t.Run("without history", func(t *testing.T) {
		hist := &fakeHistory{records: records}
		h := NewStatusHandler(st, hist, quietLogger())

		resp := h.Handle(ctx, &StatusInput{})
		if resp.Loop.Cycles != 4 || resp.Loop.SessionID != "abc" {
			t.Errorf("Loop = %+v", resp.Loop)
		}
		if resp.Sessions != nil {
			t.Errorf("Sessions = %v, want nil", resp.Sessions)
		}
		if hist.limit != 0 {
			t.Error("history should not be queried")
		}
	})

	t.Run("with history", func(t *testing.T) {
		hist := &fakeHistory{records: records}
		h := NewStatusHandler(st, hist, quietLogger())

		resp := h.Handle(ctx, &StatusInput{History: 5})
		if len(resp.Sessions) != 1 || resp.Sessions[0].ID != "abc" {
			t.Errorf("Sessions = %v", resp.Sessions)
		}
		if hist.limit != 5 {
			t.Errorf("limit = %d, want 5", hist.limit)
		}
	})

	t.Run("history error still returns status", func(t *testing.T) {
		hist := &fakeHistory{err: errors.New("database is locked")}
		h := NewStatusHandler(st, hist, quietLogger())

		resp := h.Handle(ctx, &StatusInput{History: 5})
		if resp.Loop.State != "running" {
			t.Errorf("Loop.State = %q", resp.Loop.State)
		}
		if resp.Sessions != nil {
			t.Errorf("Sessions = %v, want nil", resp.Sessions)
		}
	})

	t.Run("no history store", func(t *testing.T) {
		h := NewStatusHandler(st, nil, quietLogger())
		resp := h.Handle(ctx, &StatusInput{History: 5})
		if resp.Sessions != nil {
			t.Errorf("Sessions = %v, want nil", resp.Sessions)
		}
	})
}

func TestSessionHandler_Get(t *testing.T) {
	ctx := context.Background()
	hist := &fakeHistory{records: []*session.Record{{ID: "abc", State: "stopped", RefreshCount: 3}}}

	t.Run("found", func(t *testing.T) {
		out, err := NewSessionHandler(hist).Get(ctx, &GetSessionInput{ID: "abc"})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if out.Body.ID != "abc" || out.Body.RefreshCount != 3 {
			t.Errorf("Body = %+v", out.Body)
		}
	})

	tests := []struct {
		name    string
		history History
		id      string
		status  int
	}{
		{"missing session", hist, "nope", 404},
		{"history disabled", nil, "abc", 404},
		{"store error", &fakeHistory{err: errors.New("database is locked")}, "abc", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSessionHandler(tt.history).Get(ctx, &GetSessionInput{ID: tt.id})
			var se huma.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("Get() error = %v, want a huma status error", err)
			}
			if se.GetStatus() != tt.status {
				t.Errorf("status = %d, want %d", se.GetStatus(), tt.status)
			}
		})
	}
}
