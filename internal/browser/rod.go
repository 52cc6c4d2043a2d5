// Package browser drives Chrome through go-rod for the play loop.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/oklog/ulid/v2"

	"github.com/raicho81/fake-mixcloud-plays/internal/proxy"
)

// Handle identifies an open browser instance.
type Handle interface {
	ID() string
}

// OpenOptions are the per-session launch settings.
type OpenOptions struct {
	// Proxy is the egress proxy, or nil to connect directly.
	Proxy *proxy.Entry
	// Headless runs Chrome without a window.
	Headless bool
}

// Options configure the driver itself.
type Options struct {
	// ChromePath overrides the browser binary. Empty means rod's managed Chromium.
	ChromePath string
	// DisableStealth opens plain pages instead of stealth pages.
	DisableStealth bool
	// DismissConsent tries to close cookie consent banners after each load.
	DismissConsent bool
	// Timeout bounds each driver call. Zero disables the bound.
	Timeout time.Duration
}

// instance is the Handle returned by Rod.
type instance struct {
	id       string
	kill     func() // stops the Chrome process and removes its profile
	browser  *rod.Browser
	page     *rod.Page
	proxy    string
}

func (i *instance) ID() string { return i.id }

// Rod implements the session driver on top of go-rod.
type Rod struct {
	opts    Options
	logger  *slog.Logger
	consent *consentDismisser
}

// NewRod creates a go-rod backed driver.
func NewRod(opts Options, logger *slog.Logger) *Rod {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")
	return &Rod{
		opts:    opts,
		logger:  logger,
		consent: newConsentDismisser(logger),
	}
}

// Warmup makes sure a browser binary is available before the first session,
// so the first start is not delayed by a Chromium download.
func (r *Rod) Warmup(ctx context.Context) error {
	if r.opts.ChromePath != "" {
		r.logger.Info("using custom Chrome path", "path", r.opts.ChromePath)
		return nil
	}

	r.logger.Info("ensuring Chromium is available...")
	b := launcher.NewBrowser()
	b.Context = ctx
	path, err := b.Get()
	if err != nil {
		return fmt.Errorf("failed to fetch Chromium: %w", err)
	}
	r.logger.Info("Chromium ready", "path", path)
	return nil
}

// Open launches a browser, optionally behind a proxy, and loads url.
func (r *Rod) Open(ctx context.Context, url string, opts OpenOptions) (Handle, error) {
	l := r.newLauncher(opts)
	r.logger.Debug("chrome arguments", "args", l.FormatArgs())

	u, err := l.Launch()
	if err != nil {
		return nil, NewError("open", KindOther, fmt.Errorf("failed to launch browser: %w", err))
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, NewError("open", KindOther, fmt.Errorf("failed to connect to browser: %w", err))
	}

	page, err := createPage(b, r.opts.DisableStealth)
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, NewError("open", KindOther, fmt.Errorf("failed to create page: %w", err))
	}

	inst := &instance{
		id:      ulid.Make().String(),
		browser: b,
		page:    page,
		kill: func() {
			l.Kill()
			l.Cleanup()
		},
	}
	if opts.Proxy != nil {
		inst.proxy = opts.Proxy.String()
	}
	r.logger.Info("browser started", "id", inst.id, "proxy", inst.proxy, "headless", opts.Headless)

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	p := page.Context(callCtx)
	if err := p.Navigate(url); err != nil {
		r.shutdown(ctx, inst)
		return nil, NewError("open", classifyNavigation(err), err)
	}
	if err := p.WaitLoad(); err != nil {
		r.shutdown(ctx, inst)
		return nil, NewError("open", classifyNavigation(err), err)
	}

	if r.opts.DismissConsent {
		r.consent.dismiss(callCtx, page)
	}

	return inst, nil
}

// Click clicks the first element matching the XPath locator.
func (r *Rod) Click(ctx context.Context, h Handle, xpath string) error {
	inst, err := r.lookup("click", h)
	if err != nil {
		return err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	found, el, err := inst.page.Context(callCtx).HasX(xpath)
	if err != nil {
		return NewError("click", KindOther, err)
	}
	if !found {
		return NewError("click", KindNotFound, ErrElementNotFound)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return NewError("click", KindOther, err)
	}
	return nil
}

// Reload reloads the current page and waits for it to load.
func (r *Rod) Reload(ctx context.Context, h Handle) error {
	inst, err := r.lookup("reload", h)
	if err != nil {
		return err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	p := inst.page.Context(callCtx)
	if err := p.Reload(); err != nil {
		return NewError("reload", classifyNavigation(err), err)
	}
	if err := p.WaitLoad(); err != nil {
		return NewError("reload", classifyNavigation(err), err)
	}

	if r.opts.DismissConsent {
		r.consent.dismiss(callCtx, inst.page)
	}
	return nil
}

// DismissDialog accepts the JavaScript dialog currently showing, if any.
func (r *Rod) DismissDialog(ctx context.Context, h Handle) error {
	inst, err := r.lookup("dismiss_dialog", h)
	if err != nil {
		return err
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	err = proto.PageHandleJavaScriptDialog{Accept: true}.Call(inst.page.Context(callCtx))
	if err == nil {
		return nil
	}
	if isNoDialog(err) {
		return NewError("dismiss_dialog", KindNoDialog, ErrNoDialog)
	}
	return NewError("dismiss_dialog", KindOther, err)
}

// Close shuts the browser down and removes its profile directory.
func (r *Rod) Close(ctx context.Context, h Handle) error {
	inst, err := r.lookup("close", h)
	if err != nil {
		return err
	}
	if err := r.shutdown(ctx, inst); err != nil {
		return NewError("close", KindOther, err)
	}
	return nil
}

func (r *Rod) lookup(op string, h Handle) (*instance, error) {
	inst, ok := h.(*instance)
	if !ok || inst == nil || inst.page == nil {
		return nil, NewError(op, KindOther, ErrUnknownHandle)
	}
	return inst, nil
}

// shutdown closes the browser within the call timeout, then kills the
// process regardless so a wedged Chrome cannot block draining.
func (r *Rod) shutdown(ctx context.Context, inst *instance) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	err := inst.browser.Context(callCtx).Close()
	inst.kill()
	inst.page = nil
	r.logger.Info("browser closed", "id", inst.id)
	return err
}

func (r *Rod) newLauncher(opts OpenOptions) *launcher.Launcher {
	l := launcher.New()

	if r.opts.ChromePath != "" {
		l = l.Bin(r.opts.ChromePath)
	}

	l = l.
		Headless(opts.Headless).
		Set("mute-audio").
		Set("autoplay-policy", "no-user-gesture-required").
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-gpu").
		Set("disable-infobars").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("window-size", "1280,800").
		Set("lang", "en-US,en")

	if runtime.GOOS != "windows" {
		l = l.
			Set("no-sandbox").
			Set("disable-dev-shm-usage")
	}

	if opts.Proxy != nil {
		l = l.Proxy(opts.Proxy.String())
	}

	return l
}

func (r *Rod) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout > 0 {
		return context.WithTimeout(ctx, r.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// classifyNavigation maps navigation failures to a Kind. Chrome reports
// network-level failures (proxy refused, DNS, tunnel) as net:: error codes.
func classifyNavigation(err error) Kind {
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) && strings.HasPrefix(navErr.Reason, "net::") {
		return KindConnectivity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	return KindOther
}

// isNoDialog reports whether a CDP error says no dialog was open.
func isNoDialog(err error) bool {
	var cdpErr *cdp.Error
	if !errors.As(err, &cdpErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cdpErr.Message), "no dialog")
}
