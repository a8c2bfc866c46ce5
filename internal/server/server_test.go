package server_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/raysh454/permafind/internal/app"
	"github.com/raysh454/permafind/internal/browser"
	"github.com/raysh454/permafind/internal/history"
	"github.com/raysh454/permafind/internal/server"
	"github.com/raysh454/permafind/internal/testutil"
)

const oneBuild = `{"builds": [{"id": "abc-123", "builder_name": "Jane", "project_url": "https://example.com/p"}]}`

type serverOpts struct {
	history bool
	pages   app.PageFactory
}

func newTestServer(t *testing.T, opts serverOpts) *server.Server {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.Probe = testutil.FastProbeConfig(t.TempDir())
	cfg.RunTimeout = 10 * time.Second

	pages := opts.pages
	if pages == nil {
		pages = func(context.Context) (browser.Page, error) {
			return testutil.NewSitePage(cfg.Probe, oneBuild), nil
		}
	}

	var store *history.Store
	if opts.history {
		db, err := sql.Open("sqlite", "file::memory:")
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })
		if store, err = history.New(db, &testutil.DummyLogger{}); err != nil {
			t.Fatalf("history: %v", err)
		}
	}

	logger := &testutil.DummyLogger{}
	orch := app.NewOrchestrator(cfg, pages, &testutil.DummyWebClient{}, store, logger)
	s := server.NewServer(server.Config{ListenAddr: ":0", Logger: logger}, orch)
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// startRun posts a run and returns its job ID.
func startRun(t *testing.T, s http.Handler, body string) string {
	t.Helper()
	rec := doJSON(t, s, "POST", "/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job app.Job
	decodeJSON(t, rec, &job)
	if job.ID == "" {
		t.Fatal("expected a job id")
	}
	return job.ID
}

// waitForStatus polls GET /runs/{id} until the job leaves pending/running.
func waitForStatus(t *testing.T, s http.Handler, id string) app.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, "GET", "/runs/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /runs/%s: %d", id, rec.Code)
		}
		var job app.Job
		decodeJSON(t, rec, &job)
		if job.Status != app.JobPending && job.Status != app.JobRunning {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", id)
	return app.Job{}
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	rec := doJSON(t, s, "GET", "/runs", "")

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestServer_Preflight(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	rec := doJSON(t, s, "OPTIONS", "/runs/abc", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, DELETE" {
		t.Errorf("unexpected allowed methods %q", got)
	}
}

// ─── Runs ──────────────────────────────────────────────────────────────

func TestServer_StartRun_Completes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	id := startRun(t, s, "")
	job := waitForStatus(t, s, id)

	if job.Status != app.JobDone {
		t.Fatalf("expected done, got %s (%s)", job.Status, job.Error)
	}
	if job.Report == nil || job.Report.ProjectID() != "abc-123" {
		t.Fatalf("expected report for abc-123, got %+v", job.Report)
	}
	if job.Report.Fallback == nil || job.Report.Fallback.ProjectURL != "https://example.com/p" {
		t.Errorf("expected fallback project url, got %+v", job.Report.Fallback)
	}
}

func TestServer_StartRun_InvalidJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	rec := doJSON(t, s, "POST", "/runs", `{invalid}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServer_StartRun_QueryOverride(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	id := startRun(t, s, `{"query":"jane-doe"}`)
	job := waitForStatus(t, s, id)
	if job.Query != "jane-doe" {
		t.Errorf("expected overridden query, got %q", job.Query)
	}
	// the scripted site only answers the default query
	if job.Status != app.JobFailed {
		t.Errorf("expected failed run for unknown query, got %s", job.Status)
	}
}

func TestServer_ListRuns(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	id := startRun(t, s, "")
	waitForStatus(t, s, id)

	rec := doJSON(t, s, "GET", "/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jobs []app.Job
	decodeJSON(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("expected the started run, got %+v", jobs)
	}
}

func TestServer_GetRun_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	rec := doJSON(t, s, "GET", "/runs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var e server.ErrorResponse
	decodeJSON(t, rec, &e)
	if e.Error == "" {
		t.Error("expected an error message")
	}
}

func TestServer_CancelRun(t *testing.T) {
	t.Parallel()
	page := testutil.NewHangingPage()
	s := newTestServer(t, serverOpts{pages: func(context.Context) (browser.Page, error) { return page, nil }})

	id := startRun(t, s, "")
	<-page.Started

	rec := doJSON(t, s, "DELETE", "/runs/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if job := waitForStatus(t, s, id); job.Status != app.JobCanceled {
		t.Fatalf("expected canceled, got %s", job.Status)
	}

	if rec := doJSON(t, s, "DELETE", "/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

// ─── History ───────────────────────────────────────────────────────────

func TestServer_History_Disabled(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	if rec := doJSON(t, s, "GET", "/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServer_History_StoresFinishedRuns(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{history: true})

	id := startRun(t, s, "")
	waitForStatus(t, s, id)

	rec := doJSON(t, s, "GET", "/history?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var runs []history.Run
	decodeJSON(t, rec, &runs)
	if len(runs) != 1 || runs[0].ID != id || runs[0].ProjectID != "abc-123" {
		t.Fatalf("unexpected history: %+v", runs)
	}

	rec = doJSON(t, s, "GET", "/history/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rep map[string]any
	decodeJSON(t, rec, &rep)
	if rep["run_id"] != id {
		t.Errorf("expected stored report for %s, got %v", id, rep["run_id"])
	}

	if rec := doJSON(t, s, "GET", "/history/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServer_RunWebSocket_StreamsEvents(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	id := startRun(t, s, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var (
		sawResult bool
		final     map[string]any
	)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("bad message %s: %v", msg, err)
		}
		if m["type"] == string(app.JobEventResult) {
			sawResult = true
		}
		final = m
	}

	if !sawResult {
		t.Error("expected a result event")
	}
	if final == nil || final["id"] != id || final["status"] != string(app.JobDone) {
		t.Errorf("expected the finished job as last message, got %v", final)
	}
}

func TestServer_RunWebSocket_UnknownRun(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	if rec := doJSON(t, s, "GET", "/ws/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upgrade, got %d", rec.Code)
	}
}

// ─── Docs ──────────────────────────────────────────────────────────────

func TestServer_SwaggerDoc(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, serverOpts{})

	rec := doJSON(t, s, "GET", "/swagger/doc.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"/runs/{runID}"`) {
		t.Errorf("doc does not describe the run routes: %.200s", rec.Body.String())
	}
}
