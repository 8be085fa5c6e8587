package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Alert is one persisted alert row.
type Alert struct {
	ID           int64
	Severity     string
	Category     string
	Path         *string
	Summary      string
	Details      *string
	Source       string
	Acknowledged bool
	CreatedAt    string
}

// AlertFilter narrows Filtered queries. Nil fields are not applied.
type AlertFilter struct {
	Severity     *string
	Acknowledged *bool
	Category     *string
	SinceID      *int64
}

// AlertStore persists alerts.
type AlertStore struct {
	db *DB
}

func optArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Insert adds an alert and fills in the assigned id.
func (s *AlertStore) Insert(a *Alert) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		INSERT INTO alerts (severity, category, path, summary, details, source)
		VALUES (?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{
			a.Severity, a.Category, optArg(a.Path), a.Summary, optArg(a.Details), a.Source,
		}})
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID = s.db.conn.LastInsertRowID()
	return nil
}

// FindByID returns the alert with the given id, or nil when absent.
func (s *AlertStore) FindByID(id int64) (*Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var found *Alert
	err := sqlitex.Execute(s.db.conn,
		selectAlert+` WHERE id = ?;`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanAlert(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("find alert %d: %w", id, err)
	}
	return found, nil
}

// Recent returns the newest alerts, most recent first.
func (s *AlertStore) Recent(limit int) ([]Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAlert+` ORDER BY id DESC LIMIT ?;`, limit)
}

// Unacknowledged returns alerts not yet acknowledged, most recent first.
func (s *AlertStore) Unacknowledged(limit int) ([]Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAlert+` WHERE acknowledged = 0 ORDER BY id DESC LIMIT ?;`, limit)
}

// Filtered returns alerts matching the filter, most recent first.
func (s *AlertStore) Filtered(f AlertFilter, limit, offset int) ([]Alert, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	query := selectAlert + ` WHERE 1=1`
	args := []any{}
	if f.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, *f.Severity)
	}
	if f.Acknowledged != nil {
		query += ` AND acknowledged = ?`
		if *f.Acknowledged {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if f.Category != nil {
		query += ` AND category = ?`
		args = append(args, *f.Category)
	}
	if f.SinceID != nil {
		query += ` AND id > ?`
		args = append(args, *f.SinceID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?;`
	args = append(args, limit, offset)

	var rows []Alert
	err := sqlitex.Execute(s.db.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, *scanAlert(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("filter alerts: %w", err)
	}
	return rows, nil
}

// Acknowledge marks the alert acknowledged. Returns false when the id does
// not exist.
func (s *AlertStore) Acknowledge(id int64) (bool, error) {
	return s.setAcknowledged(id, 1)
}

// Unacknowledge clears the acknowledged flag. Returns false when the id does
// not exist.
func (s *AlertStore) Unacknowledge(id int64) (bool, error) {
	return s.setAcknowledged(id, 0)
}

// PruneOld deletes alerts older than the given number of days and returns
// how many were removed.
func (s *AlertStore) PruneOld(days int) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`DELETE FROM alerts
		 WHERE created_at < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?);`,
		&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("-%d days", days)}})
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return int64(s.db.conn.Changes()), nil
}

func (s *AlertStore) setAcknowledged(id int64, value int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`UPDATE alerts SET acknowledged = ? WHERE id = ?;`,
		&sqlitex.ExecOptions{Args: []any{value, id}})
	if err != nil {
		return false, fmt.Errorf("acknowledge alert %d: %w", id, err)
	}
	return s.db.conn.Changes() > 0, nil
}

func (s *AlertStore) queryLocked(query string, args ...any) ([]Alert, error) {
	var rows []Alert
	err := sqlitex.Execute(s.db.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, *scanAlert(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return rows, nil
}

const selectAlert = `
	SELECT id, severity, category, path, summary, details, source, acknowledged, created_at
	FROM alerts`

func scanAlert(stmt *sqlite.Stmt) *Alert {
	a := &Alert{
		ID:           stmt.ColumnInt64(0),
		Severity:     stmt.ColumnText(1),
		Category:     stmt.ColumnText(2),
		Summary:      stmt.ColumnText(4),
		Source:       stmt.ColumnText(6),
		Acknowledged: stmt.ColumnInt64(7) != 0,
		CreatedAt:    stmt.ColumnText(8),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		p := stmt.ColumnText(3)
		a.Path = &p
	}
	if stmt.ColumnType(5) != sqlite.TypeNull {
		d := stmt.ColumnText(5)
		a.Details = &d
	}
	return a
}
