package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"snipsync/internal/database/migrations"
	"snipsync/internal/snip"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Run is a row of the sync_runs table.
type Run struct {
	Seq        int64
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

// Outcome is a row of the entity_outcomes table.
type Outcome struct {
	RunID            string
	SnippetID        string
	Title            string
	DirName          string
	State            string
	Commits          int
	AlreadySynced    int
	Unchanged        bool
	SkippedRevisions []string
	Warnings         []string
	Error            string
}

// SQLiteDatabase is the run ledger, backed by SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// Run tracking

func (s *SQLiteDatabase) CreateRun(ctx context.Context, run snip.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, started_at, status) VALUES (?, ?, ?, 'running')`,
		run.ID, string(run.Mode), run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) RecordOutcome(ctx context.Context, runID string, o snip.EntityOutcome) error {
	skipped, err := encodeList(o.SkippedRevisions)
	if err != nil {
		return err
	}
	warnings, err := encodeList(o.Warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_outcomes
			(run_id, snippet_id, title, dir_name, state, commits, already_synced, unchanged, skipped_revisions, warnings, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.SnippetID, o.Title, o.DirName, string(o.State),
		o.Commits, o.AlreadySynced, o.Unchanged, skipped, warnings, o.ErrorMessage())
	if err != nil {
		return fmt.Errorf("recording outcome for snippet %s: %w", o.SnippetID, err)
	}
	return nil
}

func (s *SQLiteDatabase) FinishRun(ctx context.Context, runID string, summary *snip.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ? WHERE id = ?`,
		summary.FinishedAt.UTC(), summary.Status(), runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run: run %s not found", runID)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *SQLiteDatabase) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, mode, started_at, finished_at, status FROM sync_runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.Seq, &r.ID, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given ID, or nil if there is none.
func (s *SQLiteDatabase) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, id, mode, started_at, finished_at, status FROM sync_runs WHERE id = ?`, id).
		Scan(&r.Seq, &r.ID, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return r, nil
}

// ListOutcomes returns a run's outcomes in the order they were recorded.
func (s *SQLiteDatabase) ListOutcomes(ctx context.Context, runID string) ([]*Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, snippet_id, title, dir_name, state, commits, already_synced, unchanged, skipped_revisions, warnings, error
		FROM entity_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o := &Outcome{}
		var skipped, warnings string
		if err := rows.Scan(&o.RunID, &o.SnippetID, &o.Title, &o.DirName, &o.State,
			&o.Commits, &o.AlreadySynced, &o.Unchanged, &skipped, &warnings, &o.Error); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		if o.SkippedRevisions, err = decodeList(skipped); err != nil {
			return nil, err
		}
		if o.Warnings, err = decodeList(warnings); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// MaxRunSeq returns the sequence number of the latest run, or 0 if there are none.
func (s *SQLiteDatabase) MaxRunSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("getting max run seq: %w", err)
	}
	return seq, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(data), nil
}

func decodeList(data string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ snip.Ledger = (*SQLiteDatabase)(nil)
