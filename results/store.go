package results

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ieee0824/otcalign"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Writers retry SQLITE_BUSY a few times, waiting busyBackoff longer each
// attempt, on top of the busy_timeout pragma.
const (
	busyRetries = 4
	busyBackoff = 25 * time.Millisecond
)

// Store keeps per-utterance outcomes of alignment runs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Run describes one invocation of the aligner.
type Run struct {
	ID        string
	TestSet   string
	StartedAt time.Time
	Settings  string // free-form description of the settings used
}

// Record is a stored utterance outcome.
type Record struct {
	CutID        string
	Status       string
	Text         string
	Reference    string
	LogScore     float64
	NumFrames    int
	Bypass       int
	SelfLoop     int
	EditDistance int
	Error        string
}

// Open initializes or connects to the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// isBusy matches SQLITE_BUSY and its extended codes, which share the low byte.
func isBusy(err error) bool {
	var coder interface{ Code() int }
	return errors.As(err, &coder) && coder.Code()&0xff == 5
}

func retryOnBusy(ctx context.Context, op func() error) error {
	err := op()
	for attempt := 1; attempt < busyRetries && isBusy(err); attempt++ {
		select {
		case <-time.After(time.Duration(attempt) * busyBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = op()
	}
	return err
}

// BeginRun records a new run.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO runs (id, test_set, started_at, settings) VALUES (?, ?, ?, ?)",
			run.ID, run.TestSet, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Settings)
		return err
	})
}

const upsertUtterance = `INSERT INTO utterances
    (run_id, cut_id, status, text, reference, log_score, num_frames, bypass_arcs, self_loop_arcs, edit_distance, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, cut_id) DO UPDATE SET
    status = excluded.status,
    text = excluded.text,
    reference = excluded.reference,
    log_score = excluded.log_score,
    num_frames = excluded.num_frames,
    bypass_arcs = excluded.bypass_arcs,
    self_loop_arcs = excluded.self_loop_arcs,
    edit_distance = excluded.edit_distance,
    error = excluded.error`

// Put stores the outcomes of one batch in a single transaction. A cut
// stored earlier in the same run is overwritten.
func (s *Store) Put(ctx context.Context, runID string, res []otcalign.Result) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, upsertUtterance)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range res {
			r := &res[i]
			var msg string
			if r.Err != nil {
				msg = r.Err.Error()
			}
			if _, err := stmt.ExecContext(ctx, runID, r.ID, r.Status(), r.Text, r.Reference,
				r.LogScore, r.NumFrames, r.Bypass, r.SelfLoop, r.EditDistance, msg); err != nil {
				return fmt.Errorf("store %s: %w", r.ID, err)
			}
		}
		return tx.Commit()
	})
}

// Failed returns the failed utterances of a run ordered by cut id.
func (s *Store) Failed(ctx context.Context, runID string) ([]Record, error) {
	return s.query(ctx, `SELECT cut_id, status, text, reference, log_score, num_frames,
    bypass_arcs, self_loop_arcs, edit_distance, error
FROM utterances WHERE run_id = ? AND status <> 'aligned' ORDER BY cut_id`, runID)
}

// Records returns every utterance of a run ordered by cut id.
func (s *Store) Records(ctx context.Context, runID string) ([]Record, error) {
	return s.query(ctx, `SELECT cut_id, status, text, reference, log_score, num_frames,
    bypass_arcs, self_loop_arcs, edit_distance, error
FROM utterances WHERE run_id = ? ORDER BY cut_id`, runID)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query utterances: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CutID, &r.Status, &r.Text, &r.Reference, &r.LogScore, &r.NumFrames,
			&r.Bypass, &r.SelfLoop, &r.EditDistance, &r.Error); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary counts the utterances of a run by status.
func (s *Store) Summary(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(1) FROM utterances WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
