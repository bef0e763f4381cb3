// Package eventstore is the run ledger: one row per pipeline run and one event
// per stage transition, kept in SQLite so an interrupted run can be inspected
// and recovered by hand.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/learnpod/internal/config"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID        string
	Source    string
	Title     string
	Status    string
	Stage     string
	Location  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event represents a recorded stage transition.
type Event struct {
	ID        int64
	RunID     string
	TraceID   string
	Stage     string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps a SQLite-backed run ledger.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the ledger according to config. Ephemeral mode keeps nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    source TEXT,
    title TEXT,
    status TEXT NOT NULL,
    stage TEXT,
    location TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    trace_id TEXT,
    stage TEXT,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(run_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendRun registers a run in the running state. Registering an existing run
// refreshes its source and title.
func (s *Store) AppendRun(ctx context.Context, runID, source, title string) error {
	if s.disabled() {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, source, title, status, stage, created_at, updated_at)
		 VALUES(?, ?, ?, ?, '', ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET source=excluded.source, title=excluded.title, updated_at=excluded.updated_at`,
		runID, source, title, StatusRunning, now, now)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

// UpdateRun records the latest stage, status, location and error of a run.
func (s *Store) UpdateRun(ctx context.Context, runID, status, stage, location, errText string) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, location = COALESCE(NULLIF(?, ''), location), error = ?, updated_at = ?
		 WHERE run_id = ?`,
		status, stage, location, errText, s.clock().UTC(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run: %w", ErrRunNotFound)
	}
	return nil
}

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(run_id, trace_id, stage, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.TraceID, evt.Stage, evt.Type, evt.Payload, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if s.disabled() {
		return Run{}, ErrRunNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, source, title, status, stage, location, error, created_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source, title, status, stage, location, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var source, title, stage, location, errText sql.NullString
	var created, updated any
	if err := row.Scan(&r.ID, &source, &title, &r.Status, &stage, &location, &errText, &created, &updated); err != nil {
		return Run{}, err
	}
	r.Source, r.Title, r.Stage, r.Location, r.Error = source.String, title.String, stage.String, location.String, errText.String
	r.CreatedAt, r.UpdatedAt = timestamp(created), timestamp(updated)
	return r, nil
}

// timestamp accepts the driver's time value or its text rendering.
func timestamp(v any) time.Time {
	var text string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05.999999999-07:00"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, trace_id, stage, event_type, payload, created_at
		 FROM events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var traceID, stage, typ sql.NullString
		var created any
		if err := rows.Scan(&e.ID, &e.RunID, &traceID, &stage, &typ, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.TraceID, e.Stage, e.Type = traceID.String, stage.String, typ.String
		e.CreatedAt = timestamp(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and after each run).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
