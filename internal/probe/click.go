package probe

import (
	"context"
	"fmt"

	"github.com/raysh454/permafind/internal/browser"
)

// ClickResult is Strategy A: what the address bar and the history API did
// when the card was clicked.
type ClickResult struct {
	Attempted    bool     `json:"attempted"`
	ElementFound bool     `json:"element_found"`
	Before       string   `json:"before,omitempty"`
	After        string   `json:"after,omitempty"`
	Captured     []string `json:"captured,omitempty"`
	Screenshot   string   `json:"screenshot,omitempty"`
}

// Changed reports whether the click moved the page anywhere.
func (r *ClickResult) Changed() bool {
	return r.Before != r.After || len(r.Captured) > 0
}

// ClickAndObserve clicks the element showing cfg.TargetText and watches for
// client-side navigation. It does nothing unless the scroll phase revealed
// the target.
func ClickAndObserve(ctx context.Context, page browser.Page, cfg Config, revealed bool) (*ClickResult, error) {
	res := &ClickResult{}
	if !revealed {
		return res, nil
	}
	res.Attempted = true

	if err := InjectInterceptor(ctx, page); err != nil {
		return res, err
	}
	el, err := page.Find(ctx, browser.Text(cfg.TargetText))
	if err != nil {
		return res, fmt.Errorf("click: %w", err)
	}
	if el == nil {
		return res, nil
	}
	res.ElementFound = true

	before, err := page.Location(ctx)
	if err != nil {
		return res, fmt.Errorf("click: %w", err)
	}
	res.Before = before

	if err := page.Click(ctx, el); err != nil {
		return res, fmt.Errorf("click: %w", err)
	}

	if _, err := waitUntil(ctx, cfg.Waits.Click, cfg.Waits.PollInterval, func() (bool, error) {
		loc, err := page.Location(ctx)
		if err != nil {
			return false, err
		}
		if loc != before {
			return true, nil
		}
		urls, err := CapturedURLs(ctx, page)
		return len(urls) > 0, err
	}); err != nil {
		return res, fmt.Errorf("click: %w", err)
	}

	if res.After, err = page.Location(ctx); err != nil {
		return res, fmt.Errorf("click: %w", err)
	}
	if res.Captured, err = CapturedURLs(ctx, page); err != nil {
		return res, err
	}

	shot := cfg.artifact(ClickScreenshot)
	if err := page.Screenshot(ctx, shot); err != nil {
		return res, err
	}
	res.Screenshot = shot
	return res, nil
}
