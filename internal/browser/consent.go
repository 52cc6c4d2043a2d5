package browser

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Consent buttons seen on Mixcloud and the common consent platforms,
// most specific first.
var consentButtonSelectors = []string{
	// OneTrust
	`button#onetrust-accept-btn-handler`,
	`#accept-recommended-btn-handler`,

	// Cookiebot
	`button#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`button#CybotCookiebotDialogBodyButtonAccept`,

	// Quantcast/TCF
	`button.qc-cmp2-summary-buttons button[mode="primary"]`,

	// Didomi
	`button#didomi-notice-agree-button`,

	// Generic
	`button[data-testid="accept-cookies"]`,
	`button[aria-label*="Accept"]`,
	`button.cookie-accept`,
	`button.accept-cookies`,
	`div[class*="cookie"] button[class*="accept"]`,
	`div[class*="consent"] button[class*="accept"]`,
}

// acceptByTextJS clicks the first visible button or link whose text
// contains the given label.
const acceptByTextJS = `(text) => {
	const nodes = document.querySelectorAll('button, a');
	for (const n of nodes) {
		if (!n.textContent.includes(text)) continue;
		const rect = n.getBoundingClientRect();
		if (rect.width > 0 && rect.height > 0) {
			n.click();
			return true;
		}
	}
	return false;
}`

var consentButtonTexts = []string{
	"Accept All",
	"Accept all",
	"Accept Cookies",
	"I Accept",
	"I Agree",
	"Agree",
	"Got it",
	"Allow all",
}

type consentDismisser struct {
	logger *slog.Logger
}

func newConsentDismisser(logger *slog.Logger) *consentDismisser {
	return &consentDismisser{logger: logger}
}

// dismiss closes a consent banner if one is showing. A page without a
// banner is the common case and is not reported.
func (d *consentDismisser) dismiss(ctx context.Context, page *rod.Page) bool {
	p := page.Context(ctx)

	for _, selector := range consentButtonSelectors {
		found, el, err := p.Has(selector)
		if err != nil || !found {
			continue
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			d.logger.Debug("failed to click consent button", "selector", selector, "error", err)
			continue
		}
		d.logger.Info("dismissed cookie consent banner", "selector", selector)
		return true
	}

	for _, text := range consentButtonTexts {
		res, err := p.Eval(acceptByTextJS, text)
		if err != nil {
			continue
		}
		if res.Value.Bool() {
			d.logger.Info("dismissed cookie consent banner", "method", "text_search", "text", text)
			return true
		}
	}

	return false
}
