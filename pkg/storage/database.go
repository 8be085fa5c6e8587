// Package storage provides the SQLite-backed persistence layer: file
// baselines, alerts, matched journal and audit events, and scan history.
//
// The database is a single connection guarded by one mutex; every store
// shares it. SQLite serializes writers anyway, and a single connection keeps
// WAL bookkeeping and busy-handler behavior trivial.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DB owns the SQLite connection shared by all stores.
type DB struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	logger zerolog.Logger
}

// Open ensures the parent directory exists (applying the no-COW attribute on
// Btrfs so SQLite does not fragment), opens the database, and installs or
// migrates the schema. A database written by a newer build is refused.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	log := logger.With().Str("component", "storage").Logger()

	if err := ensureDatabaseDir(filepath.Dir(path), log); err != nil {
		return nil, err
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	db := &DB{conn: conn, logger: log}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close releases the connection. Stores must not be used afterwards.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Baselines returns the baseline store view of this database.
func (db *DB) Baselines() *BaselineStore { return &BaselineStore{db: db} }

// Alerts returns the alert store view of this database.
func (db *DB) Alerts() *AlertStore { return &AlertStore{db: db} }

// JournalEvents returns the journal event store view of this database.
func (db *DB) JournalEvents() *JournalEventStore { return &JournalEventStore{db: db} }

// AuditEvents returns the audit event store view of this database.
func (db *DB) AuditEvents() *AuditEventStore { return &AuditEventStore{db: db} }

// Scans returns the scan history store view of this database.
func (db *DB) Scans() *ScanStore { return &ScanStore{db: db} }

func ensureDatabaseDir(dir string, log zerolog.Logger) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	// SQLite write patterns fragment badly under copy-on-write.
	if isBtrfs(dir) {
		if err := setNoCOW(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).
				Msg("Could not set no-COW attribute on database directory")
		}
	}
	return nil
}

func (db *DB) initSchema() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := sqlitex.ExecuteScript(db.conn, ddlSchemaVersion, nil); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := db.schemaVersionLocked()
	if err != nil {
		return err
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d",
			version, currentSchemaVersion)
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if err := sqlitex.ExecuteScript(db.conn, stmt, nil); err != nil {
				return fmt.Errorf("apply schema version %d: %w", v, err)
			}
		}
		if err := sqlitex.Execute(db.conn,
			`INSERT INTO schema_version (version) VALUES (?);`,
			&sqlitex.ExecOptions{Args: []any{v}}); err != nil {
			return fmt.Errorf("record schema version %d: %w", v, err)
		}
		db.logger.Info().Int("version", v).Msg("Applied schema version")
	}

	return nil
}

func (db *DB) schemaVersionLocked() (int, error) {
	version := 0
	err := sqlitex.Execute(db.conn,
		`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the installed schema version.
func (db *DB) SchemaVersion() (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.schemaVersionLocked()
}
