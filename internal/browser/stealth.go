package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// mediaScript keeps autoplay-sensitive pages from noticing the headless
// browser. It complements the go-rod/stealth evasions, which already cover
// navigator.webdriver and plugin mocks.
const mediaScript = `
(function() {
    'use strict';

    // Headless Chrome reports hidden, which pauses many players.
    try {
        Object.defineProperty(document, 'visibilityState', { get: () => 'visible', configurable: true });
        Object.defineProperty(document, 'hidden', { get: () => false, configurable: true });
        document.hasFocus = function() { return true; };
    } catch (e) {}

    if (navigator.hardwareConcurrency === 0 || navigator.hardwareConcurrency === undefined) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
    }

    if (navigator.deviceMemory === undefined || navigator.deviceMemory === 0) {
        Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });
    }

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });
})();
`

// createPage opens a page with stealth patches, or a plain page when
// stealth is disabled.
func createPage(b *rod.Browser, disableStealth bool) (*rod.Page, error) {
	if disableStealth {
		return b.Page(proto.TargetCreateTarget{})
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, err
	}

	if _, err := page.EvalOnNewDocument(mediaScript); err != nil {
		_ = page.Close()
		return nil, err
	}

	return page, nil
}
