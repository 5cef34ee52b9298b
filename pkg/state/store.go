// Package state persists which modules are semantically checked between runs.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ritzau/ttcn-selector/pkg/logging"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS checked_modules (
	project     TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	fingerprint TEXT    NOT NULL,
	checked_at  INTEGER NOT NULL,
	PRIMARY KEY (project, name)
);
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT    PRIMARY KEY,
	project     TEXT    NOT NULL,
	mode        TEXT    NOT NULL,
	started_at  INTEGER NOT NULL,
	modules     INTEGER NOT NULL,
	checked     INTEGER NOT NULL,
	definitions INTEGER NOT NULL
);
`

// Record is the persisted state of one module
type Record struct {
	Name        string
	Fingerprint string
	CheckedAt   time.Time
}

// Run is a persisted summary of one selection run
type Run struct {
	ID          string
	Project     string
	Mode        string
	StartedAt   time.Time
	Modules     int
	Checked     int
	Definitions int
}

// Store is a SQLite-backed record of checked modules
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the store at path, creating parent directories
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// a single connection keeps the store safe without WAL tuning
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	logging.Debug("opened state store", "path", path)
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Records returns the persisted module records of a project keyed by name.
// A project that was never saved yields a nil map.
func (s *Store) Records(ctx context.Context, project string) (map[string]Record, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT name, fingerprint, checked_at FROM checked_modules WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("querying checked modules: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records map[string]Record
	for rows.Next() {
		var r Record
		var checkedAt int64
		if err := rows.Scan(&r.Name, &r.Fingerprint, &checkedAt); err != nil {
			return nil, fmt.Errorf("scanning checked module: %w", err)
		}
		r.CheckedAt = time.Unix(0, checkedAt).UTC()
		if records == nil {
			records = make(map[string]Record)
		}
		records[r.Name] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading checked modules: %w", err)
	}
	return records, nil
}

// Save upserts the record of every module that has a timestamp and removes
// records of modules no longer in the project
func (s *Store) Save(ctx context.Context, project string, modules []*model.Module) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM checked_modules WHERE project = ?`, project); err != nil {
		return fmt.Errorf("clearing checked modules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO checked_modules (project, name, fingerprint, checked_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	saved := 0
	for _, m := range modules {
		if m.LastChecked == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, project, m.Name, m.Fingerprint, m.LastChecked.UnixNano()); err != nil {
			return fmt.Errorf("saving module %s: %w", m.Name, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checked modules: %w", err)
	}

	logging.Debug("saved checked modules", "project", project, "modules", saved)
	return nil
}

// Forget drops every record of a project
func (s *Store) Forget(ctx context.Context, project string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM checked_modules WHERE project = ?`, project); err != nil {
		return fmt.Errorf("forgetting project %s: %w", project, err)
	}
	return nil
}

// AddRun stores a run summary
func (s *Store) AddRun(ctx context.Context, r Run) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO runs (id, project, mode, started_at, modules, checked, definitions) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.Mode, r.StartedAt.UnixNano(), r.Modules, r.Checked, r.Definitions)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

// Runs returns the most recent runs of a project, newest first
func (s *Store) Runs(ctx context.Context, project string, limit int) ([]Run, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, project, mode, started_at, modules, checked, definitions
		 FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		if err := rows.Scan(&r.ID, &r.Project, &r.Mode, &startedAt, &r.Modules, &r.Checked, &r.Definitions); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAt).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CheckedSet returns the modules known to be checked. Without records the
// snapshot timestamps are trusted; with them, only modules recorded with their
// current fingerprint count.
func CheckedSet(records map[string]Record, modules []*model.Module) map[string]bool {
	checked := make(map[string]bool, len(modules))
	for _, m := range modules {
		if records == nil {
			checked[m.Name] = m.LastChecked != nil
			continue
		}
		rec, ok := records[m.Name]
		checked[m.Name] = ok && rec.Fingerprint == m.Fingerprint
	}
	return checked
}

// Fingerprints returns the recorded fingerprints keyed by module name, nil
// when there are no records
func Fingerprints(records map[string]Record) map[string]string {
	if records == nil {
		return nil
	}
	fps := make(map[string]string, len(records))
	for name, r := range records {
		fps[name] = r.Fingerprint
	}
	return fps
}
