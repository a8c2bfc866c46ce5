// Package history keeps finished run reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raysh454/permafind/internal/logging"
	"github.com/raysh454/permafind/internal/probe"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of a stored report.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Site      string    `json:"site"`
	Query     string    `json:"query"`
	ProjectID string    `json:"project_id,omitempty"`
	Permalink string    `json:"permalink,omitempty"`
	Aborted   bool      `json:"aborted"`
}

// Store is the run history. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history pragmas: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and runs migrations from schema.sql.
func New(db *sql.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{db: db, logger: logger.With(logging.F("component", "history"))}, nil
}

// Save stores rep, replacing any earlier report with the same run ID.
func (s *Store) Save(ctx context.Context, rep *probe.Report) error {
	if rep == nil || rep.RunID == "" {
		return fmt.Errorf("save run: report has no run id")
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, started_at, ended_at, site, query, project_id, permalink, aborted, report)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.StartedAt.UnixMilli(), rep.EndedAt.UnixMilli(), rep.Site, rep.Query,
		rep.ProjectID(), rep.Permalink, rep.Aborted, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	s.logger.Debug("run stored", logging.F("run_id", rep.RunID))
	return nil
}

// List returns the most recent runs first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, started_at, ended_at, site, query, project_id, permalink, aborted
          FROM runs
          ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r              Run
			started, ended int64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Site, &r.Query, &r.ProjectID, &r.Permalink, &r.Aborted); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.EndedAt = time.UnixMilli(ended).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the full report of one run.
func (s *Store) Get(ctx context.Context, id string) (*probe.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ? LIMIT 1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	var rep probe.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &rep, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
