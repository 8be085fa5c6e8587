package storage

// currentSchemaVersion is the version this build writes. Version 1 carries
// the core tables, version 2 added journal_events, version 3 added
// audit_events. Migrations are strictly additive.
const currentSchemaVersion = 3

const ddlSchemaVersion = `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`

// Version 1: baselines, alerts, scans.
var ddlVersion1 = []string{`
CREATE TABLE IF NOT EXISTS baselines (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT NOT NULL,
    hash_alg    TEXT NOT NULL,
    hash_value  TEXT NOT NULL,
    size        INTEGER NOT NULL,
    mode        INTEGER NOT NULL,
    uid         INTEGER NOT NULL,
    gid         INTEGER NOT NULL,
    mtime_ns    INTEGER NOT NULL,
    source      TEXT NOT NULL,
    deployment  TEXT,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    UNIQUE(path, deployment)
);`,
	`CREATE INDEX IF NOT EXISTS idx_baselines_path ON baselines(path);`,
	`CREATE INDEX IF NOT EXISTS idx_baselines_source ON baselines(source);`,
	`
CREATE TABLE IF NOT EXISTS alerts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    severity     TEXT NOT NULL,
    category     TEXT NOT NULL,
    path         TEXT,
    summary      TEXT NOT NULL,
    details      TEXT,
    source       TEXT NOT NULL,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_path ON alerts(path);`,
	`
CREATE TABLE IF NOT EXISTS scans (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_type     TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    finished_at   TEXT,
    files_checked INTEGER DEFAULT 0,
    changes_found INTEGER DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'running'
);`,
}

// Version 2: journal event history.
var ddlVersion2 = []string{`
CREATE TABLE IF NOT EXISTS journal_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_name   TEXT NOT NULL,
    message     TEXT NOT NULL,
    priority    INTEGER NOT NULL,
    unit_name   TEXT,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_events_rule ON journal_events(rule_name);`,
	`CREATE INDEX IF NOT EXISTS idx_journal_events_created ON journal_events(created_at);`,
}

// Version 3: kernel audit event history.
var ddlVersion3 = []string{`
CREATE TABLE IF NOT EXISTS audit_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_name    TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    pid          INTEGER,
    uid          INTEGER,
    username     TEXT,
    exe_path     TEXT,
    command_line TEXT,
    details      TEXT,
    created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_rule ON audit_events(rule_name);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_uid ON audit_events(uid);`,
}

// migrations maps a target version to the statements that bring a database
// at version-1 up to it.
var migrations = map[int][]string{
	1: ddlVersion1,
	2: ddlVersion2,
	3: ddlVersion3,
}
