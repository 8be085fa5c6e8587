package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// AuditEvent is one kernel audit event that matched a rule.
type AuditEvent struct {
	ID          int64
	RuleName    string
	EventType   string
	PID         int32
	UID         uint32
	Username    string
	ExePath     string
	CommandLine string
	Details     string
	CreatedAt   string
}

// AuditEventStore persists matched kernel audit events.
type AuditEventStore struct {
	db *DB
}

// Insert appends a matched event and fills in the assigned id.
func (s *AuditEventStore) Insert(e *AuditEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		INSERT INTO audit_events (rule_name, event_type, pid, uid, username, exe_path, command_line, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{
			e.RuleName, e.EventType, int64(e.PID), int64(e.UID),
			e.Username, e.ExePath, e.CommandLine, e.Details,
		}})
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	e.ID = s.db.conn.LastInsertRowID()
	return nil
}

// Recent returns the newest events, most recent first.
func (s *AuditEventStore) Recent(limit int) ([]AuditEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAuditEvent+` ORDER BY id DESC LIMIT ?;`, limit)
}

// ByRule returns the newest events matched by the named rule.
func (s *AuditEventStore) ByRule(ruleName string, limit int) ([]AuditEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAuditEvent+` WHERE rule_name = ? ORDER BY id DESC LIMIT ?;`,
		ruleName, limit)
}

// ByType returns the newest events of the given event type.
func (s *AuditEventStore) ByType(eventType string, limit int) ([]AuditEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAuditEvent+` WHERE event_type = ? ORDER BY id DESC LIMIT ?;`,
		eventType, limit)
}

// ByUID returns the newest events attributed to the given uid.
func (s *AuditEventStore) ByUID(uid uint32, limit int) ([]AuditEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.queryLocked(selectAuditEvent+` WHERE uid = ? ORDER BY id DESC LIMIT ?;`,
		int64(uid), limit)
}

// PruneOld deletes events older than the given number of days and returns
// how many were removed.
func (s *AuditEventStore) PruneOld(days int) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`DELETE FROM audit_events
		 WHERE created_at < strftime('%Y-%m-%dT%H:%M:%fZ', 'now', ?);`,
		&sqlitex.ExecOptions{Args: []any{fmt.Sprintf("-%d days", days)}})
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return int64(s.db.conn.Changes()), nil
}

func (s *AuditEventStore) queryLocked(query string, args ...any) ([]AuditEvent, error) {
	var rows []AuditEvent
	err := sqlitex.Execute(s.db.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, AuditEvent{
				ID:          stmt.ColumnInt64(0),
				RuleName:    stmt.ColumnText(1),
				EventType:   stmt.ColumnText(2),
				PID:         int32(stmt.ColumnInt64(3)),
				UID:         uint32(stmt.ColumnInt64(4)),
				Username:    stmt.ColumnText(5),
				ExePath:     stmt.ColumnText(6),
				CommandLine: stmt.ColumnText(7),
				Details:     stmt.ColumnText(8),
				CreatedAt:   stmt.ColumnText(9),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return rows, nil
}

const selectAuditEvent = `
	SELECT id, rule_name, event_type, pid, uid, username, exe_path, command_line, details, created_at
	FROM audit_events`
