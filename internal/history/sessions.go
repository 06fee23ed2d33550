package history

import (
	"database/sql"
	"fmt"
	"time"
)

// StartSession records a new running session
func (d *DB) StartSession(id, rootDir string) error {
	_, err := d.conn.Exec(`
		INSERT INTO sessions (id, root_dir, status, started_at)
		VALUES (?, ?, ?, ?)
	`, id, rootDir, StatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// SetRootDevice records which device became the root of a session
func (d *DB) SetRootDevice(id, device string) error {
	_, err := d.conn.Exec(`UPDATE sessions SET root_device = ? WHERE id = ?`, device, id)
	return err
}

// FinishSession marks a session finished, or failed when sessionErr is set
func (d *DB) FinishSession(id string, sessionErr error) error {
	status, msg := StatusFinished, ""
	if sessionErr != nil {
		status, msg = StatusFailed, sessionErr.Error()
	}
	_, err := d.conn.Exec(`
		UPDATE sessions SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// RecordAcquired adds a resource to a session
func (d *DB) RecordAcquired(sessionID, kind, name string) error {
	_, err := d.conn.Exec(`
		INSERT INTO resources (session_id, kind, name, acquired_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, kind, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record resource: %w", err)
	}
	return nil
}

// RecordReleased closes the open record of a resource. A release error
// keeps the resource pending.
func (d *DB) RecordReleased(sessionID, kind, name string, releaseErr error) error {
	if releaseErr != nil {
		_, err := d.conn.Exec(`
			UPDATE resources SET release_error = ?
			WHERE session_id = ? AND kind = ? AND name = ? AND released_at IS NULL
		`, releaseErr.Error(), sessionID, kind, name)
		return err
	}
	_, err := d.conn.Exec(`
		UPDATE resources SET released_at = ?, release_error = NULL
		WHERE session_id = ? AND kind = ? AND name = ? AND released_at IS NULL
	`, time.Now().UTC(), sessionID, kind, name)
	return err
}

// Sessions returns the most recent sessions first
func (d *DB) Sessions(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`
		SELECT id, root_dir, root_device, status, error, started_at, finished_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		var s SessionRecord
		var rootDevice, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&s.ID, &s.RootDir, &rootDevice, &s.Status, &errMsg, &s.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.RootDevice = rootDevice.String
		s.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			s.FinishedAt = &t
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// Resources returns the resources of a session in acquisition order
func (d *DB) Resources(sessionID string) ([]*ResourceRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, session_id, kind, name, acquired_at, released_at, release_error
		FROM resources
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	return scanResources(rows)
}

// PendingResources returns every resource that was never released
func (d *DB) PendingResources() ([]*ResourceRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, session_id, kind, name, acquired_at, released_at, release_error
		FROM resources
		WHERE released_at IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending resources: %w", err)
	}
	defer rows.Close()

	return scanResources(rows)
}

// ClearPending marks every pending resource as released by hand
func (d *DB) ClearPending() (int64, error) {
	res, err := d.conn.Exec(`
		UPDATE resources SET released_at = ?
		WHERE released_at IS NULL
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanResources(rows *sql.Rows) ([]*ResourceRecord, error) {
	var resources []*ResourceRecord
	for rows.Next() {
		var r ResourceRecord
		var released sql.NullTime
		var releaseErr sql.NullString

		if err := rows.Scan(&r.ID, &r.SessionID, &r.Kind, &r.Name, &r.AcquiredAt, &released, &releaseErr); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		if released.Valid {
			t := released.Time
			r.ReleasedAt = &t
		}
		r.ReleaseError = releaseErr.String

		resources = append(resources, &r)
	}
	return resources, rows.Err()
}
