package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/logging"
	"github.com/raysh454/permafind/internal/utils"
	"github.com/raysh454/permafind/internal/webclient"
)

// snippetRadius is how many bytes around a hit are quoted.
const snippetRadius = 40

// SourceFetcher downloads script bundles outside the browser.
type SourceFetcher interface {
	Get(ctx context.Context, url string) (*webclient.Response, error)
}

// ScriptSource is one script the document references or embeds.
type ScriptSource struct {
	// URL is empty for inline scripts.
	URL       string `json:"url,omitempty"`
	Inline    bool   `json:"inline"`
	External  bool   `json:"external,omitempty"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated,omitempty"`
	Status    int    `json:"status,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Name labels the script in reports.
func (s ScriptSource) Name(index int) string {
	if s.Inline {
		return fmt.Sprintf("inline #%d", index)
	}
	return s.URL
}

// SourceHit is one occurrence of a pattern inside a script.
type SourceHit struct {
	Pattern string `json:"pattern"`
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
}

// SourceResult is Strategy F.
type SourceResult struct {
	Attempted bool           `json:"attempted"`
	Scripts   []ScriptSource `json:"scripts"`
	Hits      []SourceHit    `json:"hits"`
}

// HitsFor returns the hits for one pattern.
func (r *SourceResult) HitsFor(pattern string) []SourceHit {
	var out []SourceHit
	for _, h := range r.Hits {
		if h.Pattern == pattern {
			out = append(out, h)
		}
	}
	return out
}

// InspectSource scans the current document's scripts for route-like
// strings. External bundles are fetched through fetcher; a nil fetcher
// limits the scan to inline scripts. Per-bundle failures are recorded on
// the bundle.
func InspectSource(ctx context.Context, page browser.Page, fetcher SourceFetcher, cfg Config, logger logging.Logger) (*SourceResult, error) {
	res := &SourceResult{}
	if !cfg.Source.Enabled {
		return res, nil
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	res.Attempted = true

	html, err := page.HTML(ctx)
	if err != nil {
		return res, fmt.Errorf("source: %w", err)
	}
	pageURL, err := page.Location(ctx)
	if err != nil {
		return res, fmt.Errorf("source: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return res, fmt.Errorf("source: parse html: %w", err)
	}

	type pending struct {
		index int
		body  string
	}
	var inline []pending
	var external []string
	seen := map[string]bool{}

	addExternal := func(ref string) {
		abs, err := utils.Resolve(pageURL, ref)
		if err != nil {
			logger.Debug("unresolvable script reference", logging.F("ref", ref), logging.F("error", err))
			return
		}
		key, err := utils.Canonicalize(abs, utils.CanonicalizeOptions{DropQuery: true})
		if err != nil {
			key = abs
		}
		if seen[key] {
			return
		}
		seen[key] = true
		external = append(external, abs)
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			addExternal(src)
			return
		}
		body := s.Text()
		if strings.TrimSpace(body) == "" {
			return
		}
		res.Scripts = append(res.Scripts, ScriptSource{Inline: true, Bytes: len(body)})
		inline = append(inline, pending{index: len(res.Scripts) - 1, body: body})
	})
	doc.Find("link[rel='modulepreload'], link[rel='preload'][as='script']").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			addExternal(href)
		}
	})

	for _, p := range inline {
		res.scan(res.Scripts[p.index].Name(p.index), p.body, cfg.Source)
	}

	fetched := fetchBundles(ctx, fetcher, external, cfg.Source, logger)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	for i, u := range external {
		src := ScriptSource{URL: u}
		if same, err := utils.SameHost(pageURL, u); err == nil {
			src.External = !same
		}
		f := fetched[i]
		switch {
		case f.skipped:
			src.Skipped = true
		case f.err != nil:
			src.Error = f.err.Error()
		case f.resp == nil:
			src.Error = "empty response"
		case f.resp.StatusCode >= 400:
			src.Status = f.resp.StatusCode
			src.Error = fmt.Sprintf("status %d", f.resp.StatusCode)
		}
		if src.Skipped || src.Error != "" {
			res.Scripts = append(res.Scripts, src)
			continue
		}

		body := f.resp.Body
		src.Status = f.resp.StatusCode
		src.Truncated = f.resp.Truncated
		if cfg.Source.MaxBytes > 0 && len(body) > cfg.Source.MaxBytes {
			body = body[:cfg.Source.MaxBytes]
			src.Truncated = true
		}
		src.Bytes = len(body)
		res.Scripts = append(res.Scripts, src)
		res.scan(u, string(body), cfg.Source)
	}

	logger.Info("source inspection finished",
		logging.F("scripts", len(res.Scripts)),
		logging.F("hits", len(res.Hits)))
	return res, nil
}

type bundleFetch struct {
	resp    *webclient.Response
	err     error
	skipped bool
}

// fetchBundles downloads the first cfg.MaxScripts urls with at most
// cfg.Concurrency requests in flight. Results line up with urls; the rest
// are marked skipped, as is everything when fetcher is nil.
func fetchBundles(ctx context.Context, fetcher SourceFetcher, urls []string, cfg SourceConfig, logger logging.Logger) []bundleFetch {
	out := make([]bundleFetch, len(urls))
	limit := len(urls)
	if fetcher == nil {
		limit = 0
	} else if cfg.MaxScripts > 0 && cfg.MaxScripts < limit {
		limit = cfg.MaxScripts
	}
	for i := limit; i < len(urls); i++ {
		out[i].skipped = true
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, max(cfg.Concurrency, 1))
	for i := range limit {
		if ctx.Err() != nil {
			out[i].err = ctx.Err()
			continue
		}

		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := fetcher.Get(ctx, urls[i])
			if err != nil {
				logger.Warn("bundle fetch failed", logging.F("url", urls[i]), logging.F("error", err))
				out[i].err = err
				return
			}
			out[i].resp = resp
		}(i)
	}
	wg.Wait()
	return out
}

// scan records up to cfg.MaxHits occurrences of every pattern in body.
func (r *SourceResult) scan(source, body string, cfg SourceConfig) {
	for _, pattern := range cfg.Patterns {
		if pattern == "" {
			continue
		}
		from := 0
		for n := 0; cfg.MaxHits <= 0 || n < cfg.MaxHits; n++ {
			i := strings.Index(body[from:], pattern)
			if i < 0 {
				break
			}
			at := from + i
			r.Hits = append(r.Hits, SourceHit{
				Pattern: pattern,
				Source:  source,
				Snippet: snippet(body, at, len(pattern)),
			})
			from = at + len(pattern)
		}
	}
}

func snippet(body string, at, n int) string {
	start := max(at-snippetRadius, 0)
	end := min(at+n+snippetRadius, len(body))
	s := strings.ToValidUTF8(body[start:end], "")
	return strings.Join(strings.Fields(s), " ")
}
