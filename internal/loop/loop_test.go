package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
	"github.com/raicho81/fake-mixcloud-plays/internal/session"
	"github.com/raicho81/fake-mixcloud-plays/internal/session/sessiontest"
	"github.com/raicho81/fake-mixcloud-plays/internal/shutdown"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waits records requested durations without sleeping. After limit calls it
// requests a stop on the gate.
type waits struct {
	mu    sync.Mutex
	gate  *shutdown.Gate
	limit int
	got   []time.Duration
}

func (w *waits) waitFor(d time.Duration) bool {
	w.mu.Lock()
	w.got = append(w.got, d)
	n := len(w.got)
	w.mu.Unlock()
	if w.limit > 0 && n > w.limit {
		w.gate.RequestStop("test")
	}
	return w.gate.Stopped()
}

type harness struct {
	driver *sessiontest.Driver
	gate   *shutdown.Gate
	ctrl   *session.Controller
	waits  *waits
}

func newHarness(d *sessiontest.Driver, limit int) *harness {
	gate := shutdown.NewGate()
	settings := session.Settings{URL: "https://www.mixcloud.com/dj/mix/", PlayButtonXPath: "//button"}
	return &harness{
		driver: d,
		gate:   gate,
		ctrl:   session.NewController(d, gate, settings, quietLogger()),
		waits:  &waits{gate: gate, limit: limit},
	}
}

func (h *harness) loop(rotator *proxy.Rotator, wait WaitPolicy) *Loop {
	l := New(h.ctrl, rotator, h.gate, wait, quietLogger())
	l.waitFor = h.waits.waitFor
	return l
}

func entries(n int) []proxy.Entry {
	out := make([]proxy.Entry, n)
	for i := range out {
		out[i] = proxy.Entry{Address: fmt.Sprintf("10.0.0.%d", i+1), Port: 3128}
	}
	return out
}

func opens(d *sessiontest.Driver) []string {
	var ps []string
	for _, c := range d.Calls() {
		if c.Op == "open" {
			ps = append(ps, c.Proxy)
		}
	}
	return ps
}

func TestLoop_FastModeRefreshesUntilStopped(t *testing.T) {
	h := newHarness(&sessiontest.Driver{}, 0)
	h.driver.OnReload = func(n int) {
		if n == 3 {
			h.gate.RequestStop("test")
		}
	}

	res := h.loop(nil, FixedWait(2*time.Second)).Run(context.Background())

	if res.Refreshes != 3 {
		t.Errorf("Refreshes = %d, want 3", res.Refreshes)
	}
	if res.Cycles != 3 {
		t.Errorf("Cycles = %d, want 3", res.Cycles)
	}
	if res.Starts != 1 {
		t.Errorf("Starts = %d, want 1", res.Starts)
	}
	if res.Reason != "test" {
		t.Errorf("Reason = %q, want test", res.Reason)
	}
	for i, d := range h.waits.got {
		if d != 2*time.Second {
			t.Errorf("wait[%d] = %v, want 2s", i, d)
		}
	}
	if h.driver.Count("close") != 1 {
		t.Errorf("close count = %d, want 1", h.driver.Count("close"))
	}
	ops := h.driver.Ops()
	if ops[0] != "open" || ops[len(ops)-1] != "close" {
		t.Errorf("ops = %v, want open first and close last", ops)
	}
}

func TestLoop_OneShotProxiesExhaust(t *testing.T) {
	h := newHarness(&sessiontest.Driver{}, 0)
	rot := proxy.NewRotator(entries(2), proxy.PolicyOneShot)

	res := h.loop(rot, FixedWait(0)).Run(context.Background())

	if res.Reason != ReasonExhausted {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonExhausted)
	}
	if got := opens(h.driver); len(got) != 2 || got[0] != "10.0.0.1:3128" || got[1] != "10.0.0.2:3128" {
		t.Errorf("opened proxies = %v", got)
	}
	if h.driver.Count("close") != 2 {
		t.Errorf("close count = %d, want 2", h.driver.Count("close"))
	}
	if h.driver.Count("reload") != 0 {
		t.Error("rotation should never reload in place")
	}
	if res.Cycles != 2 {
		t.Errorf("Cycles = %d, want 2", res.Cycles)
	}
}

func TestLoop_CycleRotationRetriesAfterFailedStart(t *testing.T) {
	d := &sessiontest.Driver{
		OpenErr: func(attempt int, _ browser.OpenOptions) error {
			if attempt == 2 {
				return sessiontest.Unreachable()
			}
			return nil
		},
	}
	h := newHarness(d, 2)
	rot := proxy.NewRotator(entries(2), proxy.PolicyCycle)

	res := h.loop(rot, FixedWait(time.Second)).Run(context.Background())

	want := []string{"10.0.0.1:3128", "10.0.0.2:3128", "10.0.0.1:3128"}
	got := opens(d)
	if len(got) != len(want) {
		t.Fatalf("opened proxies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("open[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	// The failed session had no browser to close.
	if d.Count("close") != 2 {
		t.Errorf("close count = %d, want 2", d.Count("close"))
	}
	if res.Starts != 3 {
		t.Errorf("Starts = %d, want 3", res.Starts)
	}
}

func TestLoop_NoRotationReplacesFailedSession(t *testing.T) {
	d := &sessiontest.Driver{
		OpenErr: func(attempt int, _ browser.OpenOptions) error {
			if attempt == 1 {
				return sessiontest.Unreachable()
			}
			return nil
		},
	}
	h := newHarness(d, 2)

	l := h.loop(nil, FixedWait(time.Second))
	res := l.Run(context.Background())

	if d.Count("open") != 2 {
		t.Errorf("open count = %d, want 2", d.Count("open"))
	}
	if d.Count("reload") != 1 {
		t.Errorf("reload count = %d, want 1", d.Count("reload"))
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
	if st := l.Status(); st.FailedStarts != 1 {
		t.Errorf("FailedStarts = %d, want 1", st.FailedStarts)
	}
}

func TestLoop_FirstStartErrorTerminates(t *testing.T) {
	startErr := browser.NewError("open", browser.KindOther, errors.New("chrome binary not found"))
	d := &sessiontest.Driver{
		OpenErr: func(int, browser.OpenOptions) error { return startErr },
	}
	h := newHarness(d, 0)

	l := h.loop(nil, FixedWait(time.Second))
	res := l.Run(context.Background())

	if !errors.Is(res.Err, startErr) {
		t.Errorf("Err = %v, want %v", res.Err, startErr)
	}
	if res.Reason != ReasonStartFailed {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonStartFailed)
	}
	if res.Cycles != 0 || len(h.waits.got) != 0 {
		t.Errorf("loop should not cycle after a fatal start error")
	}
	if st := l.Status(); st.State != "terminated" {
		t.Errorf("State = %q, want terminated", st.State)
	}
}

func TestLoop_StopDuringWaitSkipsCycle(t *testing.T) {
	d := &sessiontest.Driver{}
	gate := shutdown.NewGate()
	ctrl := session.NewController(d, gate, session.Settings{URL: "https://x", PlayButtonXPath: "//b"}, quietLogger())
	l := New(ctrl, nil, gate, FixedWait(time.Hour), quietLogger())

	go func() {
		time.Sleep(50 * time.Millisecond)
		gate.RequestStop("SIGTERM")
	}()

	done := make(chan Result, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case res := <-done:
		if res.Reason != "SIGTERM" {
			t.Errorf("Reason = %q, want SIGTERM", res.Reason)
		}
		if res.Cycles != 0 {
			t.Errorf("Cycles = %d, want 0", res.Cycles)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after stop request")
	}

	if d.Count("reload") != 0 {
		t.Error("refresh should be skipped after stop during wait")
	}
	if d.Count("close") != 1 {
		t.Errorf("close count = %d, want 1", d.Count("close"))
	}
}

func TestLoop_ContextCancelStops(t *testing.T) {
	d := &sessiontest.Driver{}
	gate := shutdown.NewGate()
	ctrl := session.NewController(d, gate, session.Settings{URL: "https://x", PlayButtonXPath: "//b"}, quietLogger())
	l := New(ctrl, nil, gate, FixedWait(time.Hour), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan Result, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case res := <-done:
		if res.Reason != ReasonContextCanceled {
			t.Errorf("Reason = %q, want %q", res.Reason, ReasonContextCanceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancel")
	}
}

func TestLoop_Status(t *testing.T) {
	h := newHarness(&sessiontest.Driver{}, 2)
	rot := proxy.NewRotator(entries(1), proxy.PolicyCycle)
	l := h.loop(rot, FixedWait(time.Second))

	if st := l.Status(); st.State != "init" || st.ProxyPolicy != "cycle" {
		t.Errorf("initial Status() = %+v", st)
	}

	l.Run(context.Background())

	st := l.Status()
	if st.State != "terminated" {
		t.Errorf("State = %q", st.State)
	}
	if st.Cycles != 2 || st.Starts != 3 {
		t.Errorf("Cycles/Starts = %d/%d, want 2/3", st.Cycles, st.Starts)
	}
	if st.StopReason != "test" {
		t.Errorf("StopReason = %q", st.StopReason)
	}
	if st.SessionState != "stopped" || st.Proxy != "10.0.0.1:3128" {
		t.Errorf("session status = %q via %q", st.SessionState, st.Proxy)
	}
	if st.NextWait != "1s" {
		t.Errorf("NextWait = %q", st.NextWait)
	}
}

func TestRandomWait(t *testing.T) {
	t.Run("zero sigma is deterministic", func(t *testing.T) {
		w := NewRandomWait(10, 0, rand.NewPCG(1, 2))
		for i := 0; i < 20; i++ {
			if got := w.Next(); got != 10*time.Second {
				t.Fatalf("Next() = %v, want 10s", got)
			}
		}
	})

	t.Run("fractional mean rounds up", func(t *testing.T) {
		w := NewRandomWait(2.1, 0, nil)
		if got := w.Next(); got != 3*time.Second {
			t.Errorf("Next() = %v, want 3s", got)
		}
	})

	t.Run("negative draws are folded", func(t *testing.T) {
		w := NewRandomWait(-4.5, 0, nil)
		if got := w.Next(); got != 5*time.Second {
			t.Errorf("Next() = %v, want 5s", got)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		w := NewRandomWait(0, 30, rand.NewPCG(7, 7))
		for i := 0; i < 1000; i++ {
			if got := w.Next(); got < 0 {
				t.Fatalf("Next() = %v, want >= 0", got)
			}
		}
	})

	t.Run("out of range parameters are clamped", func(t *testing.T) {
		for _, mu := range []float64{1e10, -1e12, math.Inf(1), math.NaN()} {
			got := NewRandomWait(mu, 0, nil).Next()
			if got <= 0 {
				t.Errorf("mu=%g: Next() = %v, want a positive wait", mu, got)
			}
			if got != time.Duration(maxWaitSeconds)*time.Second {
				t.Errorf("mu=%g: Next() = %v, want the longest wait", mu, got)
			}
		}
	})

	t.Run("same seed same sequence", func(t *testing.T) {
		a := NewRandomWait(60, 10, rand.NewPCG(42, 0))
		b := NewRandomWait(60, 10, rand.NewPCG(42, 0))
		for i := 0; i < 10; i++ {
			if a.Next() != b.Next() {
				t.Fatal("sequences diverged")
			}
		}
	})
}

func TestFixedWait(t *testing.T) {
	if got := FixedWait(30 * time.Second).Next(); got != 30*time.Second {
		t.Errorf("Next() = %v, want 30s", got)
	}
}
