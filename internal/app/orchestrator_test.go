package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/history"
	"github.com/raysh454/permafind/internal/probe"
	"github.com/raysh454/permafind/internal/testutil"
)

const oneBuild = `{"builds": [{"id": "abc-123", "builder_name": "Jane", "project_url": "https://example.com/p"}]}`

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Probe = testutil.FastProbeConfig(t.TempDir())
	cfg.RunTimeout = 10 * time.Second
	cfg.JobRetentionTime = 5 * time.Second
	return cfg
}

func testStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := history.New(db, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return s
}

// staticPages hands out the same page on every call.
func staticPages(p browser.Page) PageFactory {
	return func(context.Context) (browser.Page, error) { return p, nil }
}

// siteFactory builds a fresh scripted site per run.
func siteFactory(cfg *Config, body string) PageFactory {
	return func(context.Context) (browser.Page, error) {
		return testutil.NewSitePage(cfg.Probe, body), nil
	}
}

func newTestOrchestrator(t *testing.T, cfg *Config, pages PageFactory, store *history.Store) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(cfg, pages, &testutil.DummyWebClient{}, store, &testutil.DummyLogger{})
	t.Cleanup(func() { o.Close() })
	return o
}

// drain collects a job's events until the stream closes.
func drain(t *testing.T, ch <-chan JobEvent) []JobEvent {
	t.Helper()
	var out []JobEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("job events did not close; got %+v", out)
		}
	}
}

// ─── Construction ──────────────────────────────────────────────────────

func TestNewOrchestrator_DefaultConfig(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(nil, nil, nil, nil, nil)
	if o.cfg == nil || o.pages == nil {
		t.Fatalf("expected defaults, got cfg=%v pages=%v", o.cfg, o.pages != nil)
	}
	if o.cfg.Probe.Query != probe.DefaultConfig().Query {
		t.Errorf("unexpected default query %q", o.cfg.Probe.Query)
	}
}

func TestGetJob_UnknownIsNotFound(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, testConfig(t), nil, nil)
	if _, err := o.GetJob("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := o.CancelJob("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from CancelJob, got %v", err)
	}
	if jobs := o.ListJobs(); len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

// ─── Synchronous runs ──────────────────────────────────────────────────

func TestRun_StoresReportAndClosesPage(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	page := testutil.NewSitePage(cfg.Probe, oneBuild)
	store := testStore(t)
	o := newTestOrchestrator(t, cfg, staticPages(page), store)

	rep, err := o.Run(context.Background(), "run-1", RunRequest{}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.RunID != "run-1" || rep.ProjectID() != "abc-123" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if !page.Closed() {
		t.Error("page must be closed after the run")
	}

	stored, err := o.GetHistory(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if stored.Fallback == nil || stored.Fallback.ProjectURL != "https://example.com/p" {
		t.Errorf("stored report lost the fallback: %+v", stored.Fallback)
	}
}

func TestRun_AbortedRunIsStored(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	store := testStore(t)
	o := newTestOrchestrator(t, cfg, siteFactory(cfg, `{"builds": []}`), store)

	_, err := o.Run(context.Background(), "run-x", RunRequest{}, nil, nil)
	if !errors.Is(err, probe.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
	runs, err := o.ListHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(runs) != 1 || !runs[0].Aborted {
		t.Fatalf("expected one aborted run, got %+v", runs)
	}
}

func TestRun_PageFactoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no chrome")
	o := newTestOrchestrator(t, testConfig(t), func(context.Context) (browser.Page, error) {
		return nil, boom
	}, nil)
	if _, err := o.Run(context.Background(), "", RunRequest{}, nil, nil); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRun_RequestOverridesQuery(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	override := cfg.Probe
	override.Query = "jane-doe"
	override.TargetText = "jane-doe"
	page := testutil.NewSitePage(override, oneBuild)
	o := newTestOrchestrator(t, cfg, staticPages(page), nil)

	rep, err := o.Run(context.Background(), "", RunRequest{Query: "jane-doe"}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Query != "jane-doe" || rep.Scroll == nil || !rep.Scroll.Found {
		t.Fatalf("override not applied: query=%q scroll=%+v", rep.Query, rep.Scroll)
	}
	if cfg.Probe.Query == "jane-doe" {
		t.Error("override must not leak into the shared config")
	}
}

func TestHistory_DisabledWithoutStore(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, testConfig(t), nil, nil)
	if _, err := o.ListHistory(context.Background(), 0); !errors.Is(err, ErrHistoryDisabled) {
		t.Fatalf("expected ErrHistoryDisabled, got %v", err)
	}
	if _, err := o.GetHistory(context.Background(), "x"); !errors.Is(err, ErrHistoryDisabled) {
		t.Fatalf("expected ErrHistoryDisabled, got %v", err)
	}
}

func TestGetHistory_UnknownIsNotFound(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, testConfig(t), nil, testStore(t))
	if _, err := o.GetHistory(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

// ─── Background jobs ───────────────────────────────────────────────────

func TestStartRun_TransitionsToDone(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	o := newTestOrchestrator(t, cfg, siteFactory(cfg, oneBuild), nil)

	job, err := o.StartRun(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	events := drain(t, job.Events)

	if len(events) < 3 {
		t.Fatalf("expected status, progress and result events, got %+v", events)
	}
	if events[0].Type != JobEventStatus || events[0].Status != JobPending {
		t.Errorf("first event should be pending, got %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != JobEventResult || last.Status != JobDone {
		t.Errorf("last event should be the result, got %+v", last)
	}
	var sawProgress bool
	for _, ev := range events {
		if ev.Type == JobEventProgress && ev.Phase == probe.PhaseSearch {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Errorf("expected a search progress event, got %+v", events)
	}

	got, err := o.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != JobDone || got.Report == nil || got.Report.RunID != job.ID {
		t.Fatalf("unexpected finished job: %+v", got)
	}
	if got.EndedAt.IsZero() || len(got.Phases) == 0 {
		t.Errorf("end time and phases must be recorded: %+v", got)
	}
}

func TestStartRun_FailedSearch(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	o := newTestOrchestrator(t, cfg, siteFactory(cfg, `{"builds": []}`), nil)

	job, _ := o.StartRun(context.Background(), RunRequest{})
	drain(t, job.Events)
	got, _ := o.GetJob(job.ID)
	if got.Status != JobFailed || got.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", got)
	}
}

func TestStartRun_CancelTransitionsToCanceled(t *testing.T) {
	t.Parallel()
	page := testutil.NewHangingPage()
	o := newTestOrchestrator(t, testConfig(t), staticPages(page), nil)

	job, _ := o.StartRun(context.Background(), RunRequest{})
	select {
	case <-page.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never started navigating")
	}
	if err := o.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	drain(t, job.Events)

	got, _ := o.GetJob(job.ID)
	if got.Status != JobCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
}

func TestStartRun_AppearsInListJobs(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	o := newTestOrchestrator(t, cfg, siteFactory(cfg, oneBuild), nil)

	first, _ := o.StartRun(context.Background(), RunRequest{})
	drain(t, first.Events)
	time.Sleep(2 * time.Millisecond)
	second, _ := o.StartRun(context.Background(), RunRequest{})
	drain(t, second.Events)

	jobs := o.ListJobs()
	if len(jobs) != 2 || jobs[0].ID != second.ID {
		t.Fatalf("expected newest job first, got %+v", jobs)
	}
}

func TestJobRetention_RemovesFinishedJobs(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.JobRetentionTime = 10 * time.Millisecond
	o := newTestOrchestrator(t, cfg, siteFactory(cfg, oneBuild), nil)

	job, _ := o.StartRun(context.Background(), RunRequest{})
	drain(t, job.Events)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := o.GetJob(job.ID); errors.Is(err, ErrRunNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("finished job was never removed")
}

func TestClose_CancelsRunningJobs(t *testing.T) {
	t.Parallel()
	page := testutil.NewHangingPage()
	o := NewOrchestrator(testConfig(t), staticPages(page), nil, nil, &testutil.DummyLogger{})

	job, _ := o.StartRun(context.Background(), RunRequest{})
	<-page.Started

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	got, _ := o.GetJob(job.ID)
	if got.Status != JobCanceled {
		t.Fatalf("expected canceled after Close, got %s", got.Status)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
