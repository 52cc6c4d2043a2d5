// Package sessiontest provides an in-memory session.Driver for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/raicho81/fake-mixcloud-plays/internal/browser"
)

// Call is one recorded driver invocation.
type Call struct {
	Op     string // open, click, reload, dismiss_dialog, close
	Handle string
	Proxy  string
}

type handle string

func (h handle) ID() string { return string(h) }

// Driver records calls and returns the configured errors.
// By default every call succeeds except DismissDialog, which reports that
// no dialog is showing.
type Driver struct {
	mu     sync.Mutex
	calls  []Call
	opened int

	// OpenErr, when set, is consulted for every Open with the 1-based
	// attempt number.
	OpenErr   func(attempt int, opts browser.OpenOptions) error
	ClickErr  error
	ReloadErr error
	// DialogErr overrides the default no-dialog error. Use NoError to
	// simulate a dialog that was accepted.
	DialogErr error
	CloseErr  error

	// OnOpen and OnReload run after the call is recorded.
	OnOpen   func(attempt int)
	OnReload func(n int)
}

// NoError makes DismissDialog succeed.
var NoError = fmt.Errorf("sessiontest: no error")

// NotFound is a click error meaning the play button is absent.
func NotFound() error {
	return browser.NewError("click", browser.KindNotFound, browser.ErrElementNotFound)
}

// Unreachable is an open error meaning the proxy could not be reached.
func Unreachable() error {
	return browser.NewError("open", browser.KindConnectivity, fmt.Errorf("net::ERR_PROXY_CONNECTION_FAILED"))
}

func (d *Driver) add(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

// Calls returns a copy of the recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Count returns how many calls of op were recorded.
func (d *Driver) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Ops returns the sequence of recorded operation names.
func (d *Driver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]string, len(d.calls))
	for i, c := range d.calls {
		ops[i] = c.Op
	}
	return ops
}

func (d *Driver) Open(ctx context.Context, url string, opts browser.OpenOptions) (browser.Handle, error) {
	d.mu.Lock()
	d.opened++
	attempt := d.opened
	d.mu.Unlock()

	p := ""
	if opts.Proxy != nil {
		p = opts.Proxy.String()
	}
	h := handle(fmt.Sprintf("browser-%d", attempt))
	d.add(Call{Op: "open", Handle: string(h), Proxy: p})

	if d.OnOpen != nil {
		d.OnOpen(attempt)
	}
	if d.OpenErr != nil {
		if err := d.OpenErr(attempt, opts); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (d *Driver) Click(ctx context.Context, h browser.Handle, xpath string) error {
	d.add(Call{Op: "click", Handle: h.ID()})
	return d.ClickErr
}

func (d *Driver) Reload(ctx context.Context, h browser.Handle) error {
	d.add(Call{Op: "reload", Handle: h.ID()})
	if d.OnReload != nil {
		d.OnReload(d.Count("reload"))
	}
	return d.ReloadErr
}

func (d *Driver) DismissDialog(ctx context.Context, h browser.Handle) error {
	d.add(Call{Op: "dismiss_dialog", Handle: h.ID()})
	switch d.DialogErr {
	case nil:
		return browser.NewError("dismiss_dialog", browser.KindNoDialog, browser.ErrNoDialog)
	case NoError:
		return nil
	default:
		return d.DialogErr
	}
}

func (d *Driver) Close(ctx context.Context, h browser.Handle) error {
	d.add(Call{Op: "close", Handle: h.ID()})
	return d.CloseErr
}
