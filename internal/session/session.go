// Package session owns the single browser session and its lifecycle.
package session

import (
	"context"
	"time"

	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
)

// Driver is the browser automation the controller delegates to.
// Implemented by *browser.Rod.
type Driver interface {
	Open(ctx context.Context, url string, opts browser.OpenOptions) (browser.Handle, error)
	Click(ctx context.Context, h browser.Handle, xpath string) error
	Reload(ctx context.Context, h browser.Handle) error
	DismissDialog(ctx context.Context, h browser.Handle) error
	Close(ctx context.Context, h browser.Handle) error
}

// State is a session lifecycle state.
type State int

const (
	StateStarting State = iota
	StateActive
	StateRefreshing
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible except a
// replacement session.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session is one browser instance loaded with the target page.
type Session struct {
	ID           string
	Handle       browser.Handle
	Proxy        *proxy.Entry
	RefreshCount int
	State        State
	StartedAt    time.Time
	StoppedAt    time.Time
	// Err is the failure that moved the session to StateFailed.
	Err error
}

// ProxyString returns the proxy in host:port form, or "" for a direct session.
func (s *Session) ProxyString() string {
	if s == nil || s.Proxy == nil {
		return ""
	}
	return s.Proxy.String()
}
