package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// JournalEvent is one journal entry that matched a rule.
type JournalEvent struct {
	ID        int64
	RuleName  string
	Message   string
	Priority  uint8
	UnitName  *string
	CreatedAt string
}

// JournalEventStore persists matched journal entries.
type JournalEventStore struct {
	db *DB
}

// Insert appends a matched entry and fills in the assigned id.
func (s *JournalEventStore) Insert(e *JournalEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		INSERT INTO journal_events (rule_name, message, priority, unit_name)
		VALUES (?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{
			e.RuleName, e.Message, int64(e.Priority), optArg(e.UnitName),
		}})
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	e.ID = s.db.conn.LastInsertRowID()
	return nil
}

// Recent returns the newest matched entries, most recent first.
func (s *JournalEventStore) Recent(limit int) ([]JournalEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectJournalEvent+` ORDER BY id DESC LIMIT ?;`, limit)
}

// ByRule returns the newest entries matched by the named rule.
func (s *JournalEventStore) ByRule(ruleName string, limit int) ([]JournalEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectJournalEvent+` WHERE rule_name = ? ORDER BY id DESC LIMIT ?;`,
		ruleName, limit)
}

// PruneOld deletes entries older than the given number of days and returns
// how many were removed.
func (s *JournalEventStore) PruneOld(days int) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`DELETE FROM journal_events
		 WHERE created_at < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?);`,
		&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("-%d days", days)}})
	if err != nil {
		return 0, fmt.Errorf("prune journal events: %w", err)
	}
	return int64(s.db.conn.Changes()), nil
}

func (s *JournalEventStore) queryLocked(query string, args ...any) ([]JournalEvent, error) {
	var rows []JournalEvent
	err := sqlitex.Execute(s.db.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e := JournalEvent{
				ID:        stmt.ColumnInt64(0),
				RuleName:  stmt.ColumnText(1),
				Message:   stmt.ColumnText(2),
				Priority:  uint8(stmt.ColumnInt64(3)),
				CreatedAt: stmt.ColumnText(5),
			}
			if stmt.ColumnType(4) != sqlite.TypeNull {
				u := stmt.ColumnText(4)
				e.UnitName = &u
			}
			rows = append(rows, e)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	return rows, nil
}

const selectJournalEvent = `
	SELECT id, rule_name, message, priority, unit_name, created_at
	FROM journal_events`
