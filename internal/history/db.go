// Package history keeps a SQLite journal of chroot sessions and the
// resources each one acquired, so anything left behind by a crashed
// session can be found and released by hand.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath is the default journal location
const DefaultPath = "/var/lib/chrootctl/history.db"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open opens the journal at path, creating it and bringing its schema up
// to date. An empty path means DefaultPath.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// One session writes at a time; a single connection keeps the pragmas
	// in effect for every statement.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	if err := db.init(); err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return db, nil
}

func (d *DB) init() error {
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
		if _, err := d.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to configure journal: %w", err)
		}
	}
	if err := d.migrate(); err != nil {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// migrations are applied in order; schema_version holds the count applied
var migrations = []string{
	migrationV1,
	migrationV2,
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}

	var current int
	if err := d.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}
	for v := current + 1; v <= len(migrations); v++ {
		if err := d.apply(v, migrations[v-1]); err != nil {
			return fmt.Errorf("migration v%d: %w", v, err)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction
func (d *DB) apply(version int, stmt string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmt); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// migrationV1 creates the session and resource tables
const migrationV1 = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    root_dir TEXT NOT NULL,
    root_device TEXT,
    status TEXT NOT NULL DEFAULT 'running',
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    acquired_at TIMESTAMP NOT NULL,
    released_at TIMESTAMP,
    release_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_resources_session ON resources(session_id);
`

// migrationV2 speeds up the lookup of resources never released
const migrationV2 = `
CREATE INDEX IF NOT EXISTS idx_resources_pending ON resources(released_at) WHERE released_at IS NULL;
`

// Session states
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Resource kinds
const (
	KindMount = "mount"
	KindLUKS  = "luks"
	KindKey   = "key"
	KindPool  = "pool"
)

// SessionRecord is one chroot session
type SessionRecord struct {
	ID         string
	RootDir    string
	RootDevice string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ResourceRecord is a resource a session acquired
type ResourceRecord struct {
	ID           int64
	SessionID    string
	Kind         string
	Name         string
	AcquiredAt   time.Time
	ReleasedAt   *time.Time
	ReleaseError string
}

// Released reports whether teardown released the resource
func (r *ResourceRecord) Released() bool {
	return r.ReleasedAt != nil && r.ReleaseError == ""
}
