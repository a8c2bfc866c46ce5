package probe

import (
	"context"
	"fmt"

	"github.com/raysh454/permafind/internal/browser"
)

// ShareResult is Strategy C.
type ShareResult struct {
	Found    bool   `json:"found"`
	Selector string `json:"selector,omitempty"`
	Label    string `json:"label,omitempty"`
	After    string `json:"after,omitempty"`
}

// FindShare tries each share selector in order and clicks the first hit.
func FindShare(ctx context.Context, page browser.Page, cfg Config) (*ShareResult, error) {
	res := &ShareResult{}

	var btn *browser.Element
	for _, sel := range cfg.ShareSelectors {
		el, err := page.Find(ctx, sel)
		if err != nil {
			return res, fmt.Errorf("share: %w", err)
		}
		if el != nil {
			btn = el
			res.Selector = sel.String()
			break
		}
	}
	if btn == nil {
		return res, nil
	}
	res.Found = true
	res.Label = btn.Text

	before, err := page.Location(ctx)
	if err != nil {
		return res, fmt.Errorf("share: %w", err)
	}
	if err := page.Click(ctx, btn); err != nil {
		return res, fmt.Errorf("share: %w", err)
	}
	if _, err := waitUntil(ctx, cfg.Waits.Share, cfg.Waits.PollInterval, func() (bool, error) {
		loc, err := page.Location(ctx)
		return loc != before, err
	}); err != nil {
		return res, fmt.Errorf("share: %w", err)
	}
	if res.After, err = page.Location(ctx); err != nil {
		return res, fmt.Errorf("share: %w", err)
	}
	return res, nil
}
