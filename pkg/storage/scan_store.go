package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Scan is one scan history row. FinishedAt is nil while the scan runs.
type Scan struct {
	ID           int64
	ScanType     string
	StartedAt    string
	FinishedAt   *string
	FilesChecked int64
	ChangesFound int64
	Status       string // "running", "completed", "failed"
}

// ScanStore persists scan history.
type ScanStore struct {
	db *DB
}

// Begin records the start of a scan and returns its id.
func (s *ScanStore) Begin(scanType string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		INSERT INTO scans (scan_type, started_at)
		VALUES (?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));`,
		&sqlitex.ExecOptions{Args: []any{scanType}})
	if err != nil {
		return 0, fmt.Errorf("begin scan record: %w", err)
	}
	return s.db.conn.LastInsertRowID(), nil
}

// Finish completes a scan record with its counters and final status.
func (s *ScanStore) Finish(id int64, filesChecked, changesFound int64, status string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		UPDATE scans
		SET finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
		    files_checked = ?, changes_found = ?, status = ?
		WHERE id = ?;`,
		&sqlitex.ExecOptions{Args: []any{filesChecked, changesFound, status, id}})
	if err != nil {
		return fmt.Errorf("finish scan record %d: %w", id, err)
	}
	return nil
}

// Recent returns the newest scan records, most recent first.
func (s *ScanStore) Recent(limit int) ([]Scan, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var rows []Scan
	err := sqlitex.Execute(s.db.conn, `
		SELECT id, scan_type, started_at, finished_at, files_checked, changes_found, status
		FROM scans ORDER BY id DESC LIMIT ?;`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sc := Scan{
					ID:           stmt.ColumnInt64(0),
					ScanType:     stmt.ColumnText(1),
					StartedAt:    stmt.ColumnText(2),
					FilesChecked: stmt.ColumnInt64(4),
					ChangesFound: stmt.ColumnInt64(5),
					Status:       stmt.ColumnText(6),
				}
				if stmt.ColumnType(3) != sqlite.TypeNull {
					f := stmt.ColumnText(3)
					sc.FinishedAt = &f
				}
				rows = append(rows, sc)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	return rows, nil
}

// PruneOld deletes scan records older than the given number of days and
// returns how many were removed.
func (s *ScanStore) PruneOld(days int) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`DELETE FROM scans
		 WHERE started_at < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?);`,
		&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("-%d days", days)}})
	if err != nil {
		return 0, fmt.Errorf("prune scans: %w", err)
	}
	return int64(s.db.conn.Changes()), nil
}
