package probe

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

const (
	rule       = "======================================================================"
	missingVal = "n/a"
)

// Report aggregates one run. It is what the CLI prints with -json, what the
// history store keeps and what the server returns.
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Site        string    `json:"site"`
	Query       string    `json:"query"`
	ProjectName string    `json:"project_name"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`

	Search *SearchResult `json:"search,omitempty"`
	Scroll *ScrollResult `json:"scroll,omitempty"`
	Click  *ClickResult  `json:"click,omitempty"`
	Card   *CardResult   `json:"card,omitempty"`
	Share  *ShareResult  `json:"share,omitempty"`
	Routes *RoutesResult `json:"routes,omitempty"`
	Source *SourceResult `json:"source,omitempty"`

	APICalls int    `json:"api_calls"`
	Build    *Build `json:"build,omitempty"`

	Permalink string    `json:"permalink,omitempty"`
	Fallback  *Fallback `json:"fallback,omitempty"`

	// Errors maps a phase name to the non-fatal error it ended with.
	Errors map[string]string `json:"errors,omitempty"`
}

// Fallback lists the best links available when no permalink exists.
type Fallback struct {
	SearchURL  string `json:"search_url"`
	Query      string `json:"query"`
	ProjectURL string `json:"project_url,omitempty"`
	APIURL     string `json:"api_url"`
}

// ProjectID is the identifier of the matched build, "" before search.
func (r *Report) ProjectID() string {
	return r.Build.ID()
}

func (r *Report) recordError(phase string, err error) {
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Errors[phase] = err.Error()
}

func heading(w io.Writer, title string) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
}

// Render prints the search phase outcome; err is what Search returned.
func (r *SearchResult) Render(w io.Writer, err error) {
	if !r.InputFound {
		fmt.Fprintln(w, "  -> search input not found, scanning captured API calls only")
	}
	switch {
	case errors.Is(err, ErrBuildNotFound):
		fmt.Fprintln(w, "[ERROR] Project not found in the API. Aborting.")
		return
	case err != nil:
		fmt.Fprintf(w, "[ERROR] Search failed: %v. Aborting.\n", err)
		return
	}
	fmt.Fprintf(w, "  -> Project found via API! ID: %s\n", orMissing(r.Build.ID()))
	if r.Candidates > 1 {
		fmt.Fprintf(w, "  -> %d builds matched the search, using the first\n", r.Candidates)
	}
}

func (r *ScrollResult) Render(w io.Writer) {
	if r.Found {
		fmt.Fprintf(w, "  -> Card visible after %d scrolls!\n", r.Iterations)
		return
	}
	fmt.Fprintf(w, "  -> Card not visible after %d scrolls.\n", r.Iterations)
}

func (r *ClickResult) Render(w io.Writer) {
	heading(w, "STRATEGY A: Click the card")
	switch {
	case !r.Attempted:
		fmt.Fprintln(w, "  Card not found by scrolling.")
	case !r.ElementFound:
		fmt.Fprintln(w, "  Card element not found.")
	default:
		fmt.Fprintf(w, "  URL before click: %s\n", r.Before)
		fmt.Fprintf(w, "  URL after click:  %s\n", r.After)
		if len(r.Captured) > 0 {
			fmt.Fprintf(w, "  History API URLs: %s\n", strings.Join(r.Captured, ", "))
		} else {
			fmt.Fprintln(w, "  History API URLs: (no change)")
		}
	}
}

func (r *CardResult) Render(w io.Writer) {
	heading(w, "STRATEGY B: Inspect card attributes")
	if !r.Attempted {
		fmt.Fprintln(w, "  Card not found by scrolling.")
		return
	}
	c := r.Card
	if c == nil {
		fmt.Fprintln(w, "  Could not extract the card structure.")
		return
	}
	id := "-"
	if c.ID != nil {
		id = *c.ID
	}
	fmt.Fprintf(w, "  Tag: %s, id: %s\n", c.TagName, id)
	fmt.Fprintf(w, "  Dataset: %s\n", formatDataset(c.Dataset))
	if len(c.Anchors) == 0 {
		fmt.Fprintln(w, "  No anchors found.")
	}
	for _, a := range c.Anchors {
		fmt.Fprintf(w, "  <a> href=%s  text=%s\n", a.Href, a.Text)
	}
	if len(c.DataAttrs) == 0 {
		fmt.Fprintln(w, "  No data-id/data-slug attributes found.")
	}
	for _, d := range c.DataAttrs {
		fmt.Fprintf(w, "  data-attr: %s\n", d)
	}
}

func (r *ShareResult) Render(w io.Writer) {
	heading(w, "STRATEGY C: Share / Copy Link button")
	if !r.Found {
		fmt.Fprintln(w, "  No Share/Copy Link button found.")
		return
	}
	fmt.Fprintf(w, "  Button found: %s\n", r.Label)
	fmt.Fprintf(w, "  URL after share: %s\n", r.After)
}

func (r *RoutesResult) Render(w io.Writer) {
	heading(w, "STRATEGY D: ID-based URLs in the browser (SPA)")
	for _, p := range r.Probes {
		switch {
		case p.Error != "":
			fmt.Fprintf(w, "  %s -> error: %s\n", p.URL, p.Error)
		case p.Matched:
			fmt.Fprintf(w, "  *** MATCH: %s (keyword %q)\n", p.URL, p.Keyword)
		case p.SameAsBaseline:
			fmt.Fprintf(w, "  %s -> no project reference (same page as browse, %.0f%% similar)\n", p.URL, p.Similarity*100)
		default:
			fmt.Fprintf(w, "  %s -> no project reference\n", p.URL)
		}
	}
}

// RenderBuild is Strategy E: the raw record, indented.
func RenderBuild(w io.Writer, b *Build) {
	heading(w, "STRATEGY E: API data")
	if b == nil {
		fmt.Fprintln(w, "null")
		return
	}
	text, err := b.Indented()
	if err != nil {
		text = string(b.Raw)
	}
	fmt.Fprintln(w, text)
}

func (r *SourceResult) Render(w io.Writer) {
	heading(w, "STRATEGY F: Source inspection")
	if !r.Attempted {
		fmt.Fprintln(w, "  Disabled.")
		return
	}
	var inline, fetched, skipped, failed int
	for _, s := range r.Scripts {
		switch {
		case s.Inline:
			inline++
		case s.Error != "":
			failed++
		case s.Skipped:
			skipped++
		default:
			fetched++
		}
	}
	fmt.Fprintf(w, "  Scripts: %d (%d inline, %d fetched, %d skipped, %d failed)\n",
		len(r.Scripts), inline, fetched, skipped, failed)
	for _, s := range r.Scripts {
		if s.Error != "" {
			fmt.Fprintf(w, "  %s -> error: %s\n", s.URL, s.Error)
		}
	}
	if len(r.Hits) == 0 {
		fmt.Fprintln(w, "  No route-like strings found.")
		return
	}
	for _, h := range r.Hits {
		fmt.Fprintf(w, "  [%s] %s: ...%s...\n", h.Pattern, h.Source, h.Snippet)
	}
}

// RenderSummary prints the closing block: the build fields, then either the
// permalink or the fallbacks.
func (r *Report) RenderSummary(w io.Writer) {
	b := r.Build
	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintf(w, "  FINAL SUMMARY: permalink reverse engineering for %s\n", r.ProjectName)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Project:       %s (name shown on the card)\n", r.ProjectName)
	fmt.Fprintf(w, "  ID (UUID):     %s\n", orMissing(b.ID()))
	for _, f := range summaryFields {
		fmt.Fprintf(w, "  %-14s %s\n", f.label+":", orMissing(b.Field(f.key)))
	}
	fmt.Fprintln(w)

	if r.Permalink != "" {
		fmt.Fprintf(w, "  ✓ PERMALINK FOUND: %s\n", r.Permalink)
		fmt.Fprintln(w, "\n"+rule)
		return
	}

	fmt.Fprintln(w, "  ✗ DEDICATED PERMALINK: DOES NOT EXIST")
	fmt.Fprintln(w)
	for _, line := range r.evidence() {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if fb := r.Fallback; fb != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  BEST POSSIBLE LINK (filtered search):")
		fmt.Fprintf(w, "    %s\n", fb.SearchURL)
		fmt.Fprintf(w, "    (search manually for '%s' in the search field)\n", fb.Query)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  DIRECT PROJECT LINK (outside the hackathon):")
		fmt.Fprintf(w, "    %s\n", orMissing(fb.ProjectURL))
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  DIRECT API (returns the project JSON):")
		fmt.Fprintf(w, "    %s\n", fb.APIURL)
	}
	fmt.Fprintln(w, "\n"+rule)
}

// evidence explains the missing permalink from what the strategies saw.
func (r *Report) evidence() []string {
	out := []string{"No probed route rendered the project."}
	if c := r.Card; c != nil && c.Card != nil && len(c.Card.Anchors) == 0 {
		out = append(out, fmt.Sprintf("The card (<%s>) holds no internal link.", strings.ToLower(c.Card.TagName)))
	}
	if s := r.Share; s != nil && !s.Found {
		out = append(out, "There is no Share button.")
	}
	if c := r.Click; c != nil && c.ElementFound && !c.Changed() {
		out = append(out, "Clicking the card triggers no pushState.")
	}
	return out
}

var summaryFields = []struct{ label, key string }{
	{"Builder", "builder_name"},
	{"Username", "v0_username"},
	{"Description", "description"},
	{"Category", "category"},
	{"Votes", "vote_count"},
	{"Project URL", "project_url"},
	{"Social Proof", "social_proof_url"},
	{"Status", "status"},
	{"Created at", "created_at"},
}

func orMissing(s string) string {
	if s == "" {
		return missingVal
	}
	return s
}

func formatDataset(ds map[string]string) string {
	if len(ds) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, ds[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
