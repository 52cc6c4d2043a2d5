// Package loop runs the play cycle: start a session, then refresh or rotate
// it on a schedule until a stop is requested.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
	"github.com/raicho81/fake-mixcloud-plays/internal/shutdown"
)

// Stop reasons set by the loop itself.
const (
	ReasonExhausted       = "proxy pool exhausted"
	ReasonStartFailed     = "session start failed"
	ReasonContextCanceled = "context canceled"
)

// State is the loop's lifecycle state.
type State int

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sessions is the session lifecycle the loop drives.
// Implemented by *session.Controller.
type Sessions interface {
	Start(ctx context.Context, p *proxy.Entry) (*session.Session, error)
	Refresh(ctx context.Context, s *session.Session) *session.Session
	Stop(ctx context.Context, s *session.Session)
	Starts() int64
	Refreshes() int64
}

// Result summarises a finished run.
type Result struct {
	// Reason is the first stop reason recorded on the gate.
	Reason    string
	Cycles    int
	Starts    int64
	Refreshes int64
	// Err is set when the initial session could not be started for a
	// reason other than connectivity.
	Err error
}

// Status is a point-in-time view of the loop, safe to read from any goroutine.
type Status struct {
	State            string    `json:"state"`
	Cycles           int       `json:"cycles"`
	Starts           int64     `json:"starts"`
	Refreshes        int64     `json:"refreshes"`
	FailedStarts     int       `json:"failedStarts"`
	SessionID        string    `json:"sessionId,omitempty"`
	SessionState     string    `json:"sessionState,omitempty"`
	SessionRefreshes int       `json:"sessionRefreshes"`
	Proxy            string    `json:"proxy,omitempty"`
	ProxyPolicy      string    `json:"proxyPolicy,omitempty"`
	NextWait         string    `json:"nextWait,omitempty"`
	StopReason       string    `json:"stopReason,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
}

// Loop is the control loop. Run must be called at most once.
type Loop struct {
	sessions Sessions
	rotator  *proxy.Rotator
	gate     *shutdown.Gate
	wait     WaitPolicy
	logger   *slog.Logger

	// waitFor defaults to gate.WaitFor.
	waitFor func(time.Duration) bool

	mu     sync.Mutex
	status Status
}

// New creates a control loop. A nil rotator disables proxy rotation.
func New(sessions Sessions, rotator *proxy.Rotator, gate *shutdown.Gate, wait WaitPolicy, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		sessions: sessions,
		rotator:  rotator,
		gate:     gate,
		wait:     wait,
		logger:   logger.With("component", "loop"),
		waitFor:  gate.WaitFor,
	}
	l.status.State = StateInit.String()
	if rotator.Active() {
		l.status.ProxyPolicy = string(rotator.Policy())
	}
	return l
}

// Run drives sessions until the gate is stopped, then stops the current
// session. Cancelling ctx requests a stop.
func (l *Loop) Run(ctx context.Context) Result {
	go func() {
		select {
		case <-ctx.Done():
			l.gate.RequestStop(ReasonContextCanceled)
		case <-l.gate.Done():
		}
	}()

	l.update(func(st *Status) { st.StartedAt = time.Now() })
	res := Result{}

	cur, err := l.initialize(ctx)
	if err != nil {
		res.Err = err
	}

	l.setState(StateRunning)
	for !l.gate.Stopped() {
		d := l.wait.Next()
		l.update(func(st *Status) { st.NextWait = d.String() })
		l.logger.Debug("waiting before next cycle", "duration", d)
		if l.waitFor(d) {
			break
		}

		res.Cycles++
		l.update(func(st *Status) { st.Cycles = res.Cycles })

		if !l.rotator.Active() {
			cur = l.refreshOrRestart(ctx, cur)
			continue
		}

		l.sessions.Stop(ctx, cur)
		next, ok := l.rotator.Next()
		if !ok {
			l.logger.Info("no proxies left, stopping")
			l.gate.RequestStop(ReasonExhausted)
			break
		}
		cur = l.start(ctx, &next)
	}

	l.setState(StateDraining)
	l.logger.Info("stopping", "reason", l.gate.Reason())
	if cur != nil && cur.State != session.StateStopped {
		l.sessions.Stop(ctx, cur)
	}
	l.observe(cur)

	res.Reason = l.gate.Reason()
	res.Starts = l.sessions.Starts()
	res.Refreshes = l.sessions.Refreshes()

	l.update(func(st *Status) { st.StopReason = res.Reason })
	l.setState(StateTerminated)
	l.logger.Info("stopped", "cycles", res.Cycles, "starts", res.Starts, "refreshes", res.Refreshes)
	return res
}

// initialize starts the first session. A non-connectivity start error stops
// the run.
func (l *Loop) initialize(ctx context.Context) (*session.Session, error) {
	var p *proxy.Entry
	if l.rotator.Active() {
		next, ok := l.rotator.Next()
		if !ok {
			l.gate.RequestStop(ReasonExhausted)
			return nil, nil
		}
		p = &next
	}

	s, err := l.sessions.Start(ctx, p)
	if err != nil {
		l.logger.Error("failed to start first session", "error", err)
		l.countFailure()
		l.gate.RequestStop(ReasonStartFailed)
		return nil, err
	}
	if s.State == session.StateFailed {
		l.countFailure()
	}
	l.observe(s)
	return s, nil
}

// refreshOrRestart refreshes a live session, or replaces one that failed.
func (l *Loop) refreshOrRestart(ctx context.Context, cur *session.Session) *session.Session {
	if cur == nil || cur.State.Terminal() {
		l.sessions.Stop(ctx, cur)
		return l.start(ctx, nil)
	}
	cur = l.sessions.Refresh(ctx, cur)
	l.observe(cur)
	return cur
}

func (l *Loop) start(ctx context.Context, p *proxy.Entry) *session.Session {
	s, err := l.sessions.Start(ctx, p)
	if err != nil {
		l.logger.Error("failed to start session", "error", err)
		l.countFailure()
		l.observe(nil)
		return nil
	}
	if s.State == session.StateFailed {
		l.countFailure()
	}
	l.observe(s)
	return s
}

func (l *Loop) countFailure() {
	l.update(func(st *Status) { st.FailedStarts++ })
}

func (l *Loop) observe(s *session.Session) {
	starts, refreshes := l.sessions.Starts(), l.sessions.Refreshes()
	l.update(func(st *Status) {
		st.Starts = starts
		st.Refreshes = refreshes
		if s == nil {
			st.SessionID, st.SessionState, st.Proxy, st.SessionRefreshes = "", "", "", 0
			return
		}
		st.SessionID = s.ID
		st.SessionState = s.State.String()
		st.Proxy = s.ProxyString()
		st.SessionRefreshes = s.RefreshCount
	})
}

func (l *Loop) setState(s State) {
	l.update(func(st *Status) { st.State = s.String() })
}

func (l *Loop) update(fn func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.status)
}

// Status returns a snapshot of the loop.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}
