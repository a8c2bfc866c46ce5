package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/raysh454/permafind/internal/browser"
)

// ErrBuildNotFound ends a run: no API response carried a matching build.
var ErrBuildNotFound = errors.New("project not found in API responses")

// SearchResult is the outcome of the search phase.
type SearchResult struct {
	InputFound bool   `json:"input_found"`
	Selector   string `json:"selector,omitempty"`
	Query      string `json:"query"`
	MatchedURL string `json:"matched_url,omitempty"`
	// Candidates is how many builds the matching payload listed. Only the
	// first is used.
	Candidates int    `json:"candidates"`
	Build      *Build `json:"-"`
}

// Search types the query into the first matching search input, submits it
// and waits for an API response whose payload lists at least one build.
// It returns ErrBuildNotFound when nothing matched before the wait ran out.
func Search(ctx context.Context, page browser.Page, log *APILog, cfg Config) (*SearchResult, error) {
	res := &SearchResult{Query: cfg.Query}

	var input *browser.Element
	for _, sel := range cfg.SearchSelectors {
		el, err := page.Find(ctx, sel)
		if err != nil {
			return res, fmt.Errorf("search input: %w", err)
		}
		if el != nil {
			input = el
			res.Selector = sel.String()
			break
		}
	}

	if input != nil {
		res.InputFound = true
		if err := page.Fill(ctx, input, cfg.Query); err != nil {
			return res, fmt.Errorf("search: %w", err)
		}
		if err := page.PressEnter(ctx); err != nil {
			return res, fmt.Errorf("search: %w", err)
		}
		if _, err := waitUntil(ctx, cfg.Waits.Search, cfg.Waits.PollInterval, func() (bool, error) {
			_, _, _, ok := matchBuild(log.Calls(), cfg)
			return ok, nil
		}); err != nil {
			return res, fmt.Errorf("search: %w", err)
		}
	}

	build, matched, n, ok := matchBuild(log.Calls(), cfg)
	if !ok {
		return res, ErrBuildNotFound
	}
	res.Build = build
	res.MatchedURL = matched
	res.Candidates = n
	return res, nil
}

// matchBuild scans calls for search responses carrying builds. The latest
// matching call wins.
func matchBuild(calls []APICall, cfg Config) (*Build, string, int, bool) {
	var (
		found   *Build
		matched string
		count   int
	)
	escaped := url.QueryEscape(cfg.Query)
	for _, c := range calls {
		if c.Body == "" {
			continue
		}
		if !strings.Contains(c.URL, cfg.Query) && !strings.Contains(c.URL, escaped) {
			continue
		}
		list, err := extractBuilds(c.Body, cfg.ResultsKey)
		if err != nil {
			continue
		}
		b, err := parseBuild(list[0])
		if err != nil {
			continue
		}
		found, matched, count = b, c.URL, len(list)
	}
	return found, matched, count, found != nil
}
