package storage

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Baseline is one known-good file record. Deployment is nil outside
// image-based systems; (path, deployment) is unique, so the same path may be
// baselined once per deployment plus once with no deployment.
type Baseline struct {
	ID         int64
	Path       string
	HashAlg    string
	HashValue  string
	Size       int64
	Mode       uint32
	UID        uint32
	GID        uint32
	MtimeNS    int64
	Source     string
	Deployment *string
	CreatedAt  string
	UpdatedAt  string
}

// BaselineStore persists file baselines.
type BaselineStore struct {
	db *DB
}

func deploymentArg(deployment *string) any {
	if deployment == nil {
		return nil
	}
	return *deployment
}

// Insert adds a new baseline row and fills in the assigned id.
func (s *BaselineStore) Insert(b *Baseline) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		INSERT INTO baselines (path, hash_alg, hash_value, size, mode, uid, gid, mtime_ns, source, deployment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{Args: []any{
			b.Path, b.HashAlg, b.HashValue, b.Size, int64(b.Mode),
			int64(b.UID), int64(b.GID), b.MtimeNS, b.Source, deploymentArg(b.Deployment),
		}})
	if err != nil {
		return fmt.Errorf("insert baseline for %s: %w", b.Path, err)
	}
	b.ID = s.db.conn.LastInsertRowID()
	return nil
}

// Update rewrites the mutable columns of the row keyed by (path, deployment)
// and bumps updated_at.
func (s *BaselineStore) Update(b *Baseline) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn, `
		UPDATE baselines
		SET hash_alg = ?, hash_value = ?, size = ?, mode = ?, uid = ?, gid = ?,
		    mtime_ns = ?, source = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE path = ? AND deployment IS ?;`,
		&sqlitex.ExecOptions{Args: []any{
			b.HashAlg, b.HashValue, b.Size, int64(b.Mode), int64(b.UID), int64(b.GID),
			b.MtimeNS, b.Source, b.Path, deploymentArg(b.Deployment),
		}})
	if err != nil {
		return fmt.Errorf("update baseline for %s: %w", b.Path, err)
	}
	return nil
}

// FindByPath returns the baseline for (path, deployment), or nil when no row
// matches. A nil deployment matches only rows whose deployment is NULL.
func (s *BaselineStore) FindByPath(path string, deployment *string) (*Baseline, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var found *Baseline
	err := sqlitex.Execute(s.db.conn, `
		SELECT id, path, hash_alg, hash_value, size, mode, uid, gid, mtime_ns,
		       source, deployment, created_at, updated_at
		FROM baselines
		WHERE path = ? AND deployment IS ?;`,
		&sqlitex.ExecOptions{
			Args: []any{path, deploymentArg(deployment)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanBaseline(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("find baseline for %s: %w", path, err)
	}
	return found, nil
}

// FindBySource returns all baselines attributed to the given origin label.
func (s *BaselineStore) FindBySource(source string) ([]Baseline, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var rows []Baseline
	err := sqlitex.Execute(s.db.conn, `
		SELECT id, path, hash_alg, hash_value, size, mode, uid, gid, mtime_ns,
		       source, deployment, created_at, updated_at
		FROM baselines WHERE source = ? ORDER BY path;`,
		&sqlitex.ExecOptions{
			Args: []any{source},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, *scanBaseline(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("find baselines by source %s: %w", source, err)
	}
	return rows, nil
}

// List returns baselines ordered by path, optionally filtered by source.
func (s *BaselineStore) List(source *string, limit, offset int) ([]Baseline, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	query := `
		SELECT id, path, hash_alg, hash_value, size, mode, uid, gid, mtime_ns,
		       source, deployment, created_at, updated_at
		FROM baselines`
	args := []any{}
	if source != nil {
		query += ` WHERE source = ?`
		args = append(args, *source)
	}
	query += ` ORDER BY path LIMIT ? OFFSET ?;`
	args = append(args, limit, offset)

	var rows []Baseline
	err := sqlitex.Execute(s.db.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, *scanBaseline(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	return rows, nil
}

// ListByPrefix returns all baselines whose path lies under dir.
func (s *BaselineStore) ListByPrefix(dir string) ([]Baseline, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var rows []Baseline
	err := sqlitex.Execute(s.db.conn, `
		SELECT id, path, hash_alg, hash_value, size, mode, uid, gid, mtime_ns,
		       source, deployment, created_at, updated_at
		FROM baselines WHERE path = ? OR path LIKE ? ORDER BY path;`,
		&sqlitex.ExecOptions{
			Args: []any{dir, dir + "/%"},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rows = append(rows, *scanBaseline(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list baselines under %s: %w", dir, err)
	}
	return rows, nil
}

// DeleteByPath removes the row keyed by (path, deployment). Deleting an
// absent row is not an error.
func (s *BaselineStore) DeleteByPath(path string, deployment *string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	err := sqlitex.Execute(s.db.conn,
		`DELETE FROM baselines WHERE path = ? AND deployment IS ?;`,
		&sqlitex.ExecOptions{Args: []any{path, deploymentArg(deployment)}})
	if err != nil {
		return fmt.Errorf("delete baseline for %s: %w", path, err)
	}
	return nil
}

// Count returns the total number of baseline rows.
func (s *BaselineStore) Count() (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var count int64
	err := sqlitex.Execute(s.db.conn, `SELECT COUNT(*) FROM baselines;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("count baselines: %w", err)
	}
	return count, nil
}

func scanBaseline(stmt *sqlite.Stmt) *Baseline {
	b := &Baseline{
		ID:        stmt.ColumnInt64(0),
		Path:      stmt.ColumnText(1),
		HashAlg:   stmt.ColumnText(2),
		HashValue: stmt.ColumnText(3),
		Size:      stmt.ColumnInt64(4),
		Mode:      uint32(stmt.ColumnInt64(5)),
		UID:       uint32(stmt.ColumnInt64(6)),
		GID:       uint32(stmt.ColumnInt64(7)),
		MtimeNS:   stmt.ColumnInt64(8),
		Source:    stmt.ColumnText(9),
		CreatedAt: stmt.ColumnText(11),
		UpdatedAt: stmt.ColumnText(12),
	}
	if stmt.ColumnType(10) != sqlite.TypeNull {
		dep := stmt.ColumnText(10)
		b.Deployment = &dep
	}
	return b
}
