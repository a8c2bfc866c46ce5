package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raysh454/permafind/internal/history"
	"github.com/raysh454/permafind/internal/probe"
	"github.com/raysh454/permafind/internal/testutil"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := history.New(db, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func report(t *testing.T, id string, started time.Time, permalink string) *probe.Report {
	t.Helper()
	var b probe.Build
	if err := b.UnmarshalJSON([]byte(`{"id":"abc-123","builder_name":"Jane"}`)); err != nil {
		t.Fatalf("build: %v", err)
	}
	return &probe.Report{
		RunID:     id,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Site:      "https://site.test",
		Query:     "renan-b-eth",
		Build:     &b,
		Permalink: permalink,
		Errors:    map[string]string{probe.PhaseShare: "boom"},
	}
}

func TestStore_SaveListGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Save(ctx, report(t, "run-1", base, "")); err != nil {
		t.Fatalf("Save run-1: %v", err)
	}
	if err := s.Save(ctx, report(t, "run-2", base.Add(time.Hour), "https://site.test/project/abc-123")); err != nil {
		t.Fatalf("Save run-2: %v", err)
	}

	runs, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[0].ProjectID != "abc-123" || runs[0].Permalink == "" {
		t.Errorf("summary columns not stored: %+v", runs[0])
	}
	if !runs[1].StartedAt.Equal(base) {
		t.Errorf("started_at round trip: got %v want %v", runs[1].StartedAt, base)
	}

	limited, err := s.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1): %v, %d rows", err, len(limited))
	}

	rep, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rep.Build.Field("builder_name") != "Jane" {
		t.Errorf("build not restored: %+v", rep.Build)
	}
	if rep.Errors[probe.PhaseShare] != "boom" {
		t.Errorf("errors not restored: %+v", rep.Errors)
	}
}

func TestStore_SaveReplacesSameRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rep := report(t, "run-1", now, "")
	if err := s.Save(ctx, rep); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rep.Aborted = true
	if err := s.Save(ctx, rep); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	runs, _ := s.List(ctx, 0)
	if len(runs) != 1 || !runs[0].Aborted {
		t.Fatalf("expected one replaced row, got %+v", runs)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, history.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStore_SaveRequiresRunID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(context.Background(), &probe.Report{}); err == nil {
		t.Fatal("expected error for report without run id")
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := history.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Save(context.Background(), report(t, "run-1", time.Now(), "")); err != nil {
		t.Fatalf("Save: %v", err)
	}
}
