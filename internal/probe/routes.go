package probe

import (
	"context"
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/logging"
)

// shellSimilarity is the ratio above which a probe page counts as the same
// shell as the browse page.
const shellSimilarity = 0.95

// ProbeResult is one candidate URL of Strategy D.
type ProbeResult struct {
	URL     string `json:"url"`
	Matched bool   `json:"matched"`
	Keyword string `json:"keyword,omitempty"`
	// Similarity compares the probe's leading text with the browse page's,
	// 1.0 meaning identical.
	Similarity     float64 `json:"similarity"`
	SameAsBaseline bool    `json:"same_as_baseline"`
	Screenshot     string  `json:"screenshot,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// RoutesResult is Strategy D.
type RoutesResult struct {
	ProjectID string        `json:"project_id"`
	Probes    []ProbeResult `json:"probes"`
	Permalink string        `json:"permalink,omitempty"`
}

// CandidateURLs substitutes base and id into every template.
func CandidateURLs(templates []string, base, id string) []string {
	r := strings.NewReplacer("{base}", strings.TrimRight(base, "/"), "{id}", id)
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, r.Replace(t))
	}
	return out
}

// ProbeRoutes visits every candidate URL built from projectID. All
// candidates are visited even after a match; the last match is the
// permalink. baseline is the browse page text used to spot fallback shells.
func ProbeRoutes(ctx context.Context, page browser.Page, cfg Config, projectID, baseline string, logger logging.Logger) (*RoutesResult, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	res := &RoutesResult{ProjectID: projectID}
	base := leadingText(baseline, cfg.ProbeTextLimit)

	for _, u := range CandidateURLs(cfg.RouteTemplates, cfg.BaseURL, projectID) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pr := ProbeResult{URL: u}

		err := page.Navigate(ctx, u, cfg.Timeouts.ProbeNavigation)
		if err != nil && !errors.Is(err, browser.ErrIdleTimeout) {
			logger.Warn("probe navigation failed", logging.F("url", u), logging.F("error", err))
			pr.Error = err.Error()
			res.Probes = append(res.Probes, pr)
			continue
		}

		var text string
		if _, err := waitUntil(ctx, cfg.Waits.ProbeSettle, cfg.Waits.PollInterval, func() (bool, error) {
			t, err := page.VisibleText(ctx)
			if err != nil {
				return false, err
			}
			text = leadingText(t, cfg.ProbeTextLimit)
			_, ok := findKeyword(text, cfg.Keywords)
			return ok, nil
		}); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			pr.Error = err.Error()
			res.Probes = append(res.Probes, pr)
			continue
		}

		pr.Similarity = similarity(base, text)
		pr.SameAsBaseline = base != "" && pr.Similarity >= shellSimilarity
		if kw, ok := findKeyword(text, cfg.Keywords); ok {
			pr.Matched = true
			pr.Keyword = kw
			res.Permalink = u
			shot := cfg.artifact(MatchScreenshot)
			if err := page.Screenshot(ctx, shot); err != nil {
				logger.Warn("match screenshot failed", logging.F("url", u), logging.F("error", err))
			} else {
				pr.Screenshot = shot
			}
		}
		res.Probes = append(res.Probes, pr)
	}
	return res, nil
}

// leadingText returns the first limit runes of s.
func leadingText(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func findKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// similarity is the share of characters left unchanged between a and b.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var equal int
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			equal += len([]rune(d.Text))
		}
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	return float64(equal) / float64(longest)
}
