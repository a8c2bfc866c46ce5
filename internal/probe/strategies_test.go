package probe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/probe"
	"github.com/raysh454/permafind/internal/testutil"
)

// ─── History interceptor ───────────────────────────────────────────────

func TestInterceptor_CapturesPushStateInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	page := testutil.NewFakePage("https://site.test/browse")

	if err := probe.InjectInterceptor(ctx, page); err != nil {
		t.Fatalf("inject: %v", err)
	}
	page.PushState("https://site.test/browse/a")
	page.PushState("https://site.test/browse/b")

	got, err := probe.CapturedURLs(ctx, page)
	if err != nil {
		t.Fatalf("captured: %v", err)
	}
	want := []string{"https://site.test/browse/a", "https://site.test/browse/b"}
	if !slices.Equal(got, want) {
		t.Fatalf("captured %v, want %v", got, want)
	}

	if err := probe.InjectInterceptor(ctx, page); err != nil {
		t.Fatalf("re-inject: %v", err)
	}
	got, _ = probe.CapturedURLs(ctx, page)
	if len(got) != 0 {
		t.Fatalf("re-injection must reset the list, got %v", got)
	}
	page.PushState("https://site.test/browse/c")
	got, _ = probe.CapturedURLs(ctx, page)
	if !slices.Equal(got, []string{"https://site.test/browse/c"}) {
		t.Fatalf("expected exactly the new address, got %v", got)
	}
}

func TestInterceptor_NothingCapturedBeforeInjection(t *testing.T) {
	t.Parallel()
	page := testutil.NewFakePage("https://site.test/browse")
	page.PushState("https://site.test/elsewhere")

	got, err := probe.CapturedURLs(context.Background(), page)
	if err != nil {
		t.Fatalf("captured: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

// ─── Response listener ─────────────────────────────────────────────────

func TestListen_FiltersByMarkerAndSwallowsBodyErrors(t *testing.T) {
	t.Parallel()
	page := testutil.NewFakePage("https://site.test/")
	log := probe.Listen(page, "/api/", nil)

	page.Deliver(
		testutil.FakeResponse{URL: "https://site.test/app.js", Status: 200, Body: "js"},
		testutil.FakeResponse{URL: "https://site.test/api/a", Status: 200, Body: "first"},
		testutil.FakeResponse{URL: "https://site.test/api/b", Status: 500, BodyErr: errors.New("evicted")},
	)

	calls := log.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 api calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].Body != "first" || calls[0].Status != 200 {
		t.Errorf("unexpected first call %+v", calls[0])
	}
	if calls[1].Body != "" || calls[1].Status != 500 {
		t.Errorf("unreadable body must be empty, got %+v", calls[1])
	}
}

func TestAPILog_ConcurrentAppend(t *testing.T) {
	t.Parallel()
	var log probe.APILog
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Append(probe.APICall{URL: fmt.Sprintf("/api/%d", i)})
		}(i)
	}
	wg.Wait()
	if log.Len() != 50 {
		t.Fatalf("expected 50 calls, got %d", log.Len())
	}
}

// ─── Search ────────────────────────────────────────────────────────────

func TestSearch_LatestMatchingCallWins(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.Elements[cfg.SearchSelectors[2]] = &testutil.FakeElement{}
	page.OnEnter = []testutil.FakeResponse{
		{URL: searchURL(cfg), Body: `{"builds": [{"id": "old"}]}`},
		{URL: searchURL(cfg), Body: `not json`},
		{URL: searchURL(cfg), Body: `{"builds": [{"id": "new"}]}`},
	}
	log := probe.Listen(page, cfg.APIMarker, nil)

	res, err := probe.Search(context.Background(), page, log, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Build.ID() != "new" {
		t.Errorf("expected latest build, got %q", res.Build.ID())
	}
	if res.Selector != cfg.SearchSelectors[2].String() {
		t.Errorf("expected third selector to be used, got %s", res.Selector)
	}
	if page.Filled[cfg.SearchSelectors[2].String()] != cfg.Query {
		t.Errorf("query not typed into the input: %v", page.Filled)
	}
}

func TestSearch_EscapedQueryMatches(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	cfg.Query = "neuro vox"
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.Elements[cfg.SearchSelectors[0]] = &testutil.FakeElement{}
	page.OnEnter = []testutil.FakeResponse{
		{URL: cfg.BaseURL + "/api/builds?search=neuro+vox", Body: `{"builds": [{"id": "x"}]}`},
	}
	log := probe.Listen(page, cfg.APIMarker, nil)

	res, err := probe.Search(context.Background(), page, log, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Build.ID() != "x" {
		t.Errorf("expected build x, got %q", res.Build.ID())
	}
}

func TestSearch_NoInputStillScansLog(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	log := probe.Listen(page, cfg.APIMarker, nil)
	log.Append(probe.APICall{URL: searchURL(cfg), Body: `{"builds": [{"id": "preloaded"}]}`})

	res, err := probe.Search(context.Background(), page, log, cfg)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.InputFound {
		t.Error("no input was scripted")
	}
	if res.Build.ID() != "preloaded" {
		t.Errorf("expected preloaded build, got %q", res.Build.ID())
	}
}

func TestSearch_WrongKeyIsNotFound(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.Elements[cfg.SearchSelectors[0]] = &testutil.FakeElement{}
	page.OnEnter = []testutil.FakeResponse{{URL: searchURL(cfg), Body: `{"projects": [{"id": "x"}]}`}}
	log := probe.Listen(page, cfg.APIMarker, nil)

	if _, err := probe.Search(context.Background(), page, log, cfg); !errors.Is(err, probe.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

// ─── Scroll ────────────────────────────────────────────────────────────

func TestScrollToReveal_VisibleImmediately(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.DefaultText = "cards: RENAN-B-ETH"

	res, err := probe.ScrollToReveal(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if !res.Found || res.Iterations != 0 {
		t.Fatalf("expected match without scrolling (case-insensitive), got %+v", res)
	}
}

// ─── Strategy B ────────────────────────────────────────────────────────

func TestCard_NoAttributesReportedExplicitly(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.Card = map[string]any{
		"tagName":   "DIV",
		"id":        nil,
		"dataset":   map[string]string{},
		"anchors":   []any{},
		"dataAttrs": []any{},
	}

	res, err := probe.InspectCard(context.Background(), page, cfg, true)
	if err != nil {
		t.Fatalf("InspectCard: %v", err)
	}
	if res.Card == nil || res.Card.TagName != "DIV" || res.Card.ID != nil {
		t.Fatalf("unexpected card %+v", res.Card)
	}
	var out bytes.Buffer
	res.Render(&out)
	text := strings.ToLower(out.String())
	for _, want := range []string{"no anchors found", "no data-id/data-slug attributes found"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, out.String())
		}
	}
}

func TestCard_AnchorsAndDataAttrs(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	page.Card = map[string]any{
		"tagName": "ARTICLE",
		"id":      "card-1",
		"dataset": map[string]string{"kind": "build"},
		"anchors": []map[string]string{
			{"href": "/browse/abc", "fullHref": "https://site.test/browse/abc", "text": "Open"},
		},
		"dataAttrs": []map[string]any{
			{"dataId": "abc", "dataBuildId": nil, "dataProjectId": nil, "dataSlug": "neurovox"},
		},
	}

	res, err := probe.InspectCard(context.Background(), page, cfg, true)
	if err != nil {
		t.Fatalf("InspectCard: %v", err)
	}
	var out bytes.Buffer
	res.Render(&out)
	text := out.String()
	for _, want := range []string{
		"Tag: ARTICLE, id: card-1",
		"Dataset: {kind=build}",
		"<a> href=/browse/abc  text=Open",
		"data-id=abc data-build-id=- data-project-id=- data-slug=neurovox",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "No anchors found") {
		t.Error("anchors were present")
	}
}

func TestCard_NotRevealedIsNotAttempted(t *testing.T) {
	t.Parallel()
	res, err := probe.InspectCard(context.Background(), testutil.NewFakePage(""), fastConfig(t), false)
	if err != nil || res.Attempted {
		t.Fatalf("expected skipped inspection, got %+v, %v", res, err)
	}
}

// ─── Strategy C ────────────────────────────────────────────────────────

func TestFindShare_UsesFirstMatchingSelector(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	shared := cfg.BrowseURL() + "?share=abc"
	page.Elements[cfg.ShareSelectors[1]] = &testutil.FakeElement{
		Text:    "share",
		OnClick: func(p *testutil.FakePage) { p.SetURL(shared) },
	}
	page.Elements[cfg.ShareSelectors[2]] = &testutil.FakeElement{Text: "Copy"}

	res, err := probe.FindShare(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("FindShare: %v", err)
	}
	if !res.Found || res.Selector != cfg.ShareSelectors[1].String() {
		t.Fatalf("expected aria-label selector, got %+v", res)
	}
	if res.After != shared {
		t.Errorf("expected %s after share, got %s", shared, res.After)
	}
	if len(page.Clicks) != 1 {
		t.Errorf("expected exactly one click, got %v", page.Clicks)
	}
}

func TestFindShare_AbsentIsReported(t *testing.T) {
	t.Parallel()
	res, err := probe.FindShare(context.Background(), testutil.NewFakePage(""), fastConfig(t))
	if err != nil {
		t.Fatalf("FindShare: %v", err)
	}
	var out bytes.Buffer
	res.Render(&out)
	if !strings.Contains(out.String(), "No Share/Copy Link button found.") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

// ─── Strategy D ────────────────────────────────────────────────────────

func TestCandidateURLs(t *testing.T) {
	t.Parallel()
	got := probe.CandidateURLs([]string{"{base}/build/{id}", "{base}/browse#{id}"}, "https://site.test/", "abc")
	want := []string{"https://site.test/build/abc", "https://site.test/browse#abc"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestProbeRoutes_NoEarlyExit(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	urls := probe.CandidateURLs(cfg.RouteTemplates, cfg.BaseURL, "abc-123")
	page.Texts[urls[0]] = "NeuroVox"
	page.Texts[urls[3]] = "Cognitive accessibility"

	res, err := probe.ProbeRoutes(context.Background(), page, cfg, "abc-123", "Browse", nil)
	if err != nil {
		t.Fatalf("ProbeRoutes: %v", err)
	}
	if got := page.NavigationCount(); got != len(cfg.RouteTemplates) {
		t.Fatalf("expected %d navigations, got %d", len(cfg.RouteTemplates), got)
	}
	if res.Permalink != urls[3] {
		t.Errorf("last match wins: expected %s, got %s", urls[3], res.Permalink)
	}
	if !res.Probes[0].Matched || res.Probes[0].Keyword != "neurovox" {
		t.Errorf("unexpected first probe %+v", res.Probes[0])
	}
	if len(page.Screenshots) != 2 {
		t.Errorf("expected a screenshot per match, got %v", page.Screenshots)
	}
}

func TestProbeRoutes_NavigationErrorRecordedPerCandidate(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	page := testutil.NewFakePage(cfg.BrowseURL())
	urls := probe.CandidateURLs(cfg.RouteTemplates, cfg.BaseURL, "abc")
	page.NavigateErr = map[string]error{
		urls[1]: errors.New("net::ERR_ABORTED"),
		urls[2]: browser.ErrIdleTimeout,
	}
	page.Texts[urls[2]] = "renan"

	res, err := probe.ProbeRoutes(context.Background(), page, cfg, "abc", "", &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("ProbeRoutes: %v", err)
	}
	if len(res.Probes) != len(urls) {
		t.Fatalf("expected every candidate reported, got %d", len(res.Probes))
	}
	if res.Probes[1].Error == "" {
		t.Error("navigation error must be recorded on its candidate")
	}
	if !res.Probes[2].Matched {
		t.Error("an idle timeout still lets the candidate be checked")
	}
}

func TestProbeRoutes_FlagsFallbackShell(t *testing.T) {
	t.Parallel()
	cfg := fastConfig(t)
	cfg.RouteTemplates = []string{"{base}/build/{id}", "{base}/other/{id}"}
	page := testutil.NewFakePage(cfg.BrowseURL())
	shell := "Browse all builds from the hackathon. Filter by category."
	page.DefaultText = shell
	page.Texts[cfg.BaseURL+"/other/x"] = "404 This page could not be found."

	res, err := probe.ProbeRoutes(context.Background(), page, cfg, "x", shell, nil)
	if err != nil {
		t.Fatalf("ProbeRoutes: %v", err)
	}
	if !res.Probes[0].SameAsBaseline || res.Probes[0].Similarity != 1 {
		t.Errorf("identical shell must be flagged, got %+v", res.Probes[0])
	}
	if res.Probes[1].SameAsBaseline {
		t.Errorf("different page must not be flagged, got %+v", res.Probes[1])
	}
}

// ─── Strategy E ────────────────────────────────────────────────────────

func TestRenderBuild_KeepsFieldOrder(t *testing.T) {
	t.Parallel()
	var b probe.Build
	if err := b.UnmarshalJSON([]byte(`{"zeta":1,"alpha":"a","vote_count":12}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var out bytes.Buffer
	probe.RenderBuild(&out, &b)
	text := out.String()
	if strings.Index(text, `"zeta"`) > strings.Index(text, `"alpha"`) {
		t.Errorf("field order lost:\n%s", text)
	}
	if !strings.Contains(text, "  \"alpha\": \"a\"") {
		t.Errorf("expected two-space indent:\n%s", text)
	}
	if b.Field("vote_count") != "12" {
		t.Errorf("numbers render verbatim, got %q", b.Field("vote_count"))
	}
}
