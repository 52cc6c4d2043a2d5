package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
	"github.com/raicho81/fake-mixcloud-plays/internal/logging"
	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
	"github.com/raicho81/fake-mixcloud-plays/internal/shutdown"
)

// ErrSessionActive is returned by Start while a previous session is still
// running. Only one session may exist at a time.
var ErrSessionActive = errors.New("a session is already active")

// Settings are the page-level parameters for every session.
type Settings struct {
	URL             string
	PlayButtonXPath string
	WaitBeforePlay  time.Duration
	Headless        bool
}

// Recorder persists session lifecycle snapshots.
type Recorder interface {
	Record(ctx context.Context, s *Session) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder stores every lifecycle transition in r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// Controller starts, refreshes and stops sessions through a Driver.
// It is driven from a single goroutine; only the counters are safe to read
// concurrently.
type Controller struct {
	driver   Driver
	gate     *shutdown.Gate
	settings Settings
	logger   *slog.Logger
	recorder Recorder

	current   *Session
	starts    atomic.Int64
	refreshes atomic.Int64
}

// NewController creates a session controller.
func NewController(driver Driver, gate *shutdown.Gate, settings Settings, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		driver:   driver,
		gate:     gate,
		settings: settings,
		logger:   logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a new session on the target page, waits, then tries to start
// playback. A connectivity failure yields a session in StateFailed and a nil
// error so the caller can retry; any other open failure is returned.
func (c *Controller) Start(ctx context.Context, p *proxy.Entry) (*Session, error) {
	if c.current != nil && !c.current.State.Terminal() {
		return nil, ErrSessionActive
	}

	s := &Session{
		ID:        ulid.Make().String(),
		Proxy:     p,
		State:     StateStarting,
		StartedAt: time.Now(),
	}
	c.current = s
	c.starts.Add(1)

	ctx = logging.WithSessionID(ctx, s.ID)
	log := logging.FromContext(ctx, c.logger)

	log.Info("trying to start browser", "url", c.settings.URL, "proxy", s.ProxyString())
	h, err := c.driver.Open(ctx, c.settings.URL, browser.OpenOptions{
		Proxy:    p,
		Headless: c.settings.Headless,
	})
	if err != nil {
		s.State = StateFailed
		s.Err = err
		s.StoppedAt = time.Now()
		c.record(ctx, s)

		if browser.IsConnectivity(err) {
			log.Warn("session failed to connect", "proxy", s.ProxyString(), "error", err)
			return s, nil
		}
		log.Error("session failed to start", "error", err)
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.Handle = h
	s.State = StateActive
	c.record(ctx, s)
	log.Info("loaded page", "url", c.settings.URL)

	c.gate.WaitFor(c.settings.WaitBeforePlay)
	c.StartPlayIfNotStarted(ctx, s)

	return s, nil
}

// StartPlayIfNotStarted clicks the play button. A missing button means
// playback is already running. No outcome of this call is fatal, and it
// does nothing once a stop has been requested.
func (c *Controller) StartPlayIfNotStarted(ctx context.Context, s *Session) {
	if c.gate.Stopped() {
		return
	}
	if s == nil || s.Handle == nil || s.State.Terminal() {
		return
	}

	ctx = logging.WithSessionID(ctx, s.ID)
	log := logging.FromContext(ctx, c.logger)

	log.Info("trying to start playback if not started")
	err := c.driver.Click(ctx, s.Handle, c.settings.PlayButtonXPath)
	switch {
	case err == nil:
		log.Info("playback started")
	case browser.IsNotFound(err):
		log.Info("playback is already started")
	default:
		log.Warn("failed to start playback", "error", err)
	}
}

// Refresh reloads the page in place, accepts a dialog if the reload raised
// one, then tries to start playback again. Driver errors are logged and the
// session stays active.
func (c *Controller) Refresh(ctx context.Context, s *Session) *Session {
	if s == nil || s.State != StateActive {
		return s
	}

	ctx = logging.WithSessionID(ctx, s.ID)
	log := logging.FromContext(ctx, c.logger)

	s.State = StateRefreshing
	if err := c.driver.Reload(ctx, s.Handle); err != nil {
		log.Warn("page refresh failed", "error", err)
	} else {
		s.RefreshCount++
		total := c.refreshes.Add(1)
		log.Info("refreshed page", "count", total, "session_count", s.RefreshCount)

		switch err := c.driver.DismissDialog(ctx, s.Handle); {
		case err == nil:
			log.Info("closed alert")
		case browser.IsNoDialog(err):
		default:
			log.Warn("failed to close alert", "error", err)
		}
	}
	s.State = StateActive
	c.record(ctx, s)

	c.gate.WaitFor(c.settings.WaitBeforePlay)
	c.StartPlayIfNotStarted(ctx, s)

	return s
}

// Stop closes the session's browser. Close errors are logged, never
// returned, so shutdown always completes.
func (c *Controller) Stop(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if c.current == s {
		defer func() { c.current = nil }()
	}
	if s.State == StateStopped {
		return
	}

	ctx = logging.WithSessionID(ctx, s.ID)
	log := logging.FromContext(ctx, c.logger)

	if s.Handle != nil {
		s.State = StateStopping
		log.Info("trying to close browser")
		if err := c.driver.Close(ctx, s.Handle); err != nil {
			log.Warn("failed to close browser", "error", err)
		} else {
			log.Info("closed browser")
		}
		s.Handle = nil
	}

	s.State = StateStopped
	s.StoppedAt = time.Now()
	c.record(ctx, s)
}

// Current returns the session the controller is tracking, if any.
func (c *Controller) Current() *Session {
	return c.current
}

// Refreshes returns the number of successful page reloads across all sessions.
func (c *Controller) Refreshes() int64 {
	return c.refreshes.Load()
}

// Starts returns the number of session start attempts.
func (c *Controller) Starts() int64 {
	return c.starts.Load()
}

func (c *Controller) record(ctx context.Context, s *Session) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, s); err != nil {
		c.logger.Error("failed to record session", "id", s.ID, "error", err)
	}
}
