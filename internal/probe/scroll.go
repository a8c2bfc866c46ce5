package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/raysh454/permafind/internal/browser"
)

// ScrollResult records whether the target text became visible.
type ScrollResult struct {
	Found      bool `json:"found"`
	Iterations int  `json:"iterations"`
}

// ScrollToReveal scrolls until the page text contains cfg.TargetText,
// checking at most cfg.Scroll.MaxIterations times.
func ScrollToReveal(ctx context.Context, page browser.Page, cfg Config) (*ScrollResult, error) {
	needle := strings.ToLower(cfg.TargetText)
	res := &ScrollResult{}
	for i := 0; i < cfg.Scroll.MaxIterations; i++ {
		text, err := page.VisibleText(ctx)
		if err != nil {
			return res, fmt.Errorf("scroll: %w", err)
		}
		if strings.Contains(strings.ToLower(text), needle) {
			res.Found = true
			res.Iterations = i
			return res, nil
		}
		if err := page.Evaluate(ctx, ScrollJS, nil, cfg.Scroll.StepPixels); err != nil {
			return res, fmt.Errorf("scroll: %w", err)
		}
		res.Iterations = i + 1
		if err := sleep(ctx, cfg.Scroll.Pause); err != nil {
			return res, err
		}
	}
	return res, nil
}
