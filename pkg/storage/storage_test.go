package storage

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "vc.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strptr(s string) *string { return &s }

func TestOpenInstallsSchema(t *testing.T) {
	db := openTestDB(t)

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vc.db")

	db, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Baselines().Insert(&Baseline{
		Path: "/usr/bin/ls", HashAlg: "blake3", HashValue: "aa", Source: "scan",
	}))
	require.NoError(t, db.Close())

	db, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	count, err := db.Baselines().Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vc.db")

	db, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sqlitex.Execute(db.conn,
		`INSERT INTO schema_version (version) VALUES (99);`, nil))
	require.NoError(t, db.Close())

	_, err = Open(path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestBaselineInsertAndFind(t *testing.T) {
	db := openTestDB(t)
	store := db.Baselines()

	b := &Baseline{
		Path:      "/usr/bin/ls",
		HashAlg:   "blake3",
		HashValue: "abc123",
		Size:      1234,
		Mode:      0o755,
		UID:       0,
		GID:       0,
		MtimeNS:   1700000000000000000,
		Source:    "rpm:coreutils",
	}
	require.NoError(t, store.Insert(b))
	assert.NotZero(t, b.ID)

	found, err := store.FindByPath("/usr/bin/ls", nil)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "abc123", found.HashValue)
	assert.Equal(t, "rpm:coreutils", found.Source)
	assert.Nil(t, found.Deployment)
	assert.NotEmpty(t, found.CreatedAt)

	missing, err := store.FindByPath("/usr/bin/nope", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBaselineDeploymentFilter(t *testing.T) {
	db := openTestDB(t)
	store := db.Baselines()

	require.NoError(t, store.Insert(&Baseline{
		Path: "/usr/bin/ls", HashAlg: "blake3", HashValue: "plain", Source: "scan",
	}))
	require.NoError(t, store.Insert(&Baseline{
		Path: "/usr/bin/ls", HashAlg: "blake3", HashValue: "deployed", Source: "image:abc",
		Deployment: strptr("abc"),
	}))

	// A nil deployment must match only the NULL-deployment row.
	found, err := store.FindByPath("/usr/bin/ls", nil)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "plain", found.HashValue)

	found, err = store.FindByPath("/usr/bin/ls", strptr("abc"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "deployed", found.HashValue)

	found, err = store.FindByPath("/usr/bin/ls", strptr("other"))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestBaselineUpdate(t *testing.T) {
	db := openTestDB(t)
	store := db.Baselines()

	b := &Baseline{Path: "/etc/passwd", HashAlg: "blake3", HashValue: "old", Source: "scan"}
	require.NoError(t, store.Insert(b))

	b.HashValue = "new"
	b.Size = 42
	require.NoError(t, store.Update(b))

	found, err := store.FindByPath("/etc/passwd", nil)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "new", found.HashValue)
	assert.Equal(t, int64(42), found.Size)
}

func TestBaselineDelete(t *testing.T) {
	db := openTestDB(t)
	store := db.Baselines()

	require.NoError(t, store.Insert(&Baseline{
		Path: "/etc/hosts", HashAlg: "blake3", HashValue: "x", Source: "scan",
	}))
	require.NoError(t, store.DeleteByPath("/etc/hosts", nil))

	found, err := store.FindByPath("/etc/hosts", nil)
	require.NoError(t, err)
	assert.Nil(t, found)

	// Deleting an absent row is fine.
	require.NoError(t, store.DeleteByPath("/etc/hosts", nil))
}

func TestBaselineFindBySource(t *testing.T) {
	db := openTestDB(t)
	store := db.Baselines()

	for _, path := range []string{"/home/alice/.ssh/config", "/home/alice/.bashrc"} {
		require.NoError(t, store.Insert(&Baseline{
			Path: path, HashAlg: "blake3", HashValue: "h", Source: "user:alice",
		}))
	}
	require.NoError(t, store.Insert(&Baseline{
		Path: "/usr/bin/ls", HashAlg: "blake3", HashValue: "h", Source: "rpm:coreutils",
	}))

	rows, err := store.FindBySource("user:alice")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAlertAckUnackRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := db.Alerts()

	a := &Alert{
		Severity: "critical",
		Category: "file_modified",
		Path:     strptr("/usr/bin/ls"),
		Summary:  "File modified: /usr/bin/ls",
		Source:   "fanotify",
	}
	require.NoError(t, store.Insert(a))
	require.NotZero(t, a.ID)

	before, err := store.FindByID(a.ID)
	require.NoError(t, err)
	require.NotNil(t, before)
	assert.False(t, before.Acknowledged)

	ok, err := store.Acknowledge(a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	mid, err := store.FindByID(a.ID)
	require.NoError(t, err)
	assert.True(t, mid.Acknowledged)

	ok, err = store.Unacknowledge(a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := store.FindByID(a.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Acknowledged, after.Acknowledged)

	// Unknown id reports false, not an error.
	ok, err = store.Acknowledge(99999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAlertFiltered(t *testing.T) {
	db := openTestDB(t)
	store := db.Alerts()

	severities := []string{"info", "warning", "critical", "critical"}
	for i, sev := range severities {
		a := &Alert{Severity: sev, Category: "file_modified", Summary: "s", Source: "test"}
		require.NoError(t, store.Insert(a))
		if i == 3 {
			_, err := store.Acknowledge(a.ID)
			require.NoError(t, err)
		}
	}

	rows, err := store.Filtered(AlertFilter{Severity: strptr("critical")}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	acked := true
	rows, err = store.Filtered(AlertFilter{Acknowledged: &acked}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	since := int64(2)
	rows, err = store.Filtered(AlertFilter{SinceID: &since}, 100, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.Filtered(AlertFilter{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Most recent first.
	assert.Greater(t, rows[0].ID, rows[1].ID)

	unacked, err := store.Unacknowledged(100)
	require.NoError(t, err)
	assert.Len(t, unacked, 3)
}

func TestAlertPruneOld(t *testing.T) {
	db := openTestDB(t)
	store := db.Alerts()

	stale := &Alert{Severity: "info", Category: "scan_completed", Summary: "stale", Source: "test"}
	require.NoError(t, store.Insert(stale))
	require.NoError(t, store.Insert(&Alert{
		Severity: "critical", Category: "file_modified", Summary: "fresh", Source: "test",
	}))

	require.NoError(t, sqlitex.Execute(db.conn,
		`UPDATE alerts
		 SET created_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now', '-60 days')
		 WHERE id = ?;`,
		&sqlitex.ExecOptions{Args: []any{stale.ID}}))

	removed, err := store.PruneOld(30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	remaining, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh", remaining[0].Summary)
}

func TestJournalEventStore(t *testing.T) {
	db := openTestDB(t)
	store := db.JournalEvents()

	e := &JournalEvent{
		RuleName: "ssh_auth_failure",
		Message:  "Failed password for root from 10.0.0.1",
		Priority: 4,
		UnitName: strptr("sshd.service"),
	}
	require.NoError(t, store.Insert(e))
	require.NoError(t, store.Insert(&JournalEvent{
		RuleName: "sudo_command", Message: "COMMAND=/bin/sh", Priority: 6,
	}))

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "sudo_command", recent[0].RuleName)
	assert.Nil(t, recent[0].UnitName)
	assert.Equal(t, "sshd.service", *recent[1].UnitName)

	byRule, err := store.ByRule("ssh_auth_failure", 10)
	require.NoError(t, err)
	assert.Len(t, byRule, 1)

	// Fresh rows survive a 30-day prune.
	removed, err := store.PruneOld(30)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestAuditEventStore(t *testing.T) {
	db := openTestDB(t)
	store := db.AuditEvents()

	require.NoError(t, store.Insert(&AuditEvent{
		RuleName:    "compiler_execution",
		EventType:   "ProcessExecution",
		PID:         4242,
		UID:         1000,
		Username:    "alice",
		ExePath:     "/usr/bin/gcc",
		CommandLine: "gcc -O2 a.c",
	}))
	require.NoError(t, store.Insert(&AuditEvent{
		RuleName:  "privileged_command",
		EventType: "ProcessExecution",
		PID:       4243,
		UID:       0,
		Username:  "root",
		ExePath:   "/usr/bin/sudo",
	}))

	recent, err := store.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	byRule, err := store.ByRule("compiler_execution", 10)
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, "gcc -O2 a.c", byRule[0].CommandLine)

	byUID, err := store.ByUID(0, 10)
	require.NoError(t, err)
	require.Len(t, byUID, 1)
	assert.Equal(t, "root", byUID[0].Username)

	byType, err := store.ByType("ProcessExecution", 10)
	require.NoError(t, err)
	assert.Len(t, byType, 2)
}

func TestScanStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := db.Scans()

	id, err := store.Begin("full")
	require.NoError(t, err)
	require.NotZero(t, id)

	running, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "running", running[0].Status)
	assert.Nil(t, running[0].FinishedAt)

	require.NoError(t, store.Finish(id, 1500, 3, "completed"))

	done, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "completed", done[0].Status)
	assert.Equal(t, int64(1500), done[0].FilesChecked)
	assert.Equal(t, int64(3), done[0].ChangesFound)
	require.NotNil(t, done[0].FinishedAt)
}
