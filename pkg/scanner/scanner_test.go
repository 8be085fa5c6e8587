package scanner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// fixedStrategy attributes nothing and has no deployment, so baselines land
// with source "scan" and a NULL deployment.
type fixedStrategy struct{}

func (fixedStrategy) MonitorPaths() baseline.Paths { return baseline.Paths{} }
func (fixedStrategy) FileOrigin(string) string     { return "" }
func (fixedStrategy) DeploymentID() *string        { return nil }

func newTestScanner(t *testing.T) (*Scanner, *storage.DB, *events.Bus) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(zerolog.Nop())
	s := New(db.Baselines(), db.Scans(), fixedStrategy{}, bus,
		hash.BLAKE3, nil, zerolog.Nop())
	return s, db, bus
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestScanThenModifyThenVerify(t *testing.T) {
	s, db, _ := newTestScanner(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "a")
	writeFile(t, file, "one")

	stats, err := s.ScanDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FilesScanned)
	assert.Equal(t, uint64(1), stats.FilesAdded)

	writeFile(t, file, "two")
	// Force a distinct mtime; some filesystems are coarse.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(file, future, future))

	changes, err := s.VerifyDirectory(dir)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "modified", changes[0].ChangeType)
	assert.Equal(t, file, changes[0].Path)
	assert.Contains(t, changes[0].Details, "Hash mismatch")

	// Verification itself records the new content; no re-scan needed.
	b, err := db.Baselines().FindByPath(file, nil)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, hash.HashBytes([]byte("two"), hash.BLAKE3), b.HashValue)
	assert.Equal(t, "scan", b.Source)

	// A second pass finds nothing left to report.
	changes, err = s.VerifyDirectory(dir)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRepeatedScanIsIdempotent(t *testing.T) {
	s, _, _ := newTestScanner(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "alpha")
	writeFile(t, filepath.Join(dir, "b"), "beta")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub", "c"), "gamma")

	first, err := s.ScanDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), first.FilesAdded)

	second, err := s.ScanDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), second.FilesAdded)
	assert.Equal(t, uint64(0), second.FilesUpdated)
	assert.Equal(t, second.FilesScanned, second.FilesUnchanged)
}

func TestVerifyDetectsNewAndDeleted(t *testing.T) {
	s, _, bus := newTestScanner(t)
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep")
	gone := filepath.Join(dir, "gone")
	writeFile(t, keep, "stays")
	writeFile(t, gone, "leaves")

	_, err := s.ScanDirectory(dir)
	require.NoError(t, err)

	var got []events.Event
	bus.Subscribe(events.SeverityInfo, func(e events.Event) {
		got = append(got, e)
	})

	require.NoError(t, os.Remove(gone))
	writeFile(t, filepath.Join(dir, "fresh"), "surprise")

	changes, err := s.VerifyDirectory(dir)
	require.NoError(t, err)

	byType := map[string]string{}
	for _, c := range changes {
		byType[c.ChangeType] = c.Path
	}
	assert.Equal(t, filepath.Join(dir, "fresh"), byType["new"])
	assert.Equal(t, gone, byType["deleted"])
	assert.NotContains(t, byType, "modified")

	kinds := map[string]events.Severity{}
	for _, e := range got {
		kinds[e.Payload.Kind()] = e.Severity
	}
	assert.Equal(t, events.SeverityWarning, kinds["FileCreated"])
	assert.Equal(t, events.SeverityCritical, kinds["FileDeleted"])
}

func TestScanDirectoryPublishesCompletionEvent(t *testing.T) {
	s, _, bus := newTestScanner(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "x")

	var completed []events.ScanCompleted
	bus.Subscribe(events.SeverityInfo, func(e events.Event) {
		if sc, ok := e.Payload.(events.ScanCompleted); ok {
			completed = append(completed, sc)
			assert.Equal(t, "scanner", e.Source)
			assert.Equal(t, events.SeverityInfo, e.Severity)
		}
	})

	_, err := s.ScanDirectory(dir)
	require.NoError(t, err)

	require.Len(t, completed, 1)
	assert.Equal(t, dir, completed[0].ScanPath)
	assert.Equal(t, uint64(1), completed[0].FilesScanned)
}

func TestScanDirectoryHonorsExcludes(t *testing.T) {
	dir := t.TempDir()
	skipped := filepath.Join(dir, "cache")
	require.NoError(t, os.Mkdir(skipped, 0o755))
	writeFile(t, filepath.Join(skipped, "junk"), "noise")
	writeFile(t, filepath.Join(dir, "real"), "signal")

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db.Baselines(), db.Scans(), fixedStrategy{}, events.NewBus(zerolog.Nop()),
		hash.BLAKE3, []string{skipped}, zerolog.Nop())

	stats, err := s.ScanDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FilesScanned)

	b, err := db.Baselines().FindByPath(filepath.Join(skipped, "junk"), nil)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestScanUserPaths(t *testing.T) {
	s, db, _ := newTestScanner(t)
	home := t.TempDir()
	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.Mkdir(sshDir, 0o700))
	writeFile(t, filepath.Join(sshDir, "authorized_keys"), "ssh-ed25519 AAAA")

	_, err := s.ScanUserPaths([]string{sshDir}, nil, "")
	assert.Error(t, err)

	stats, err := s.ScanUserPaths(
		[]string{sshDir, filepath.Join(home, "missing")}, nil, "user:alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.FilesScanned)

	rows, err := db.Baselines().FindBySource("user:alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, filepath.Join(sshDir, "authorized_keys"), rows[0].Path)
}

func TestScanRecordsHistory(t *testing.T) {
	s, db, _ := newTestScanner(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "x")

	_, err := s.ScanDirectory(dir)
	require.NoError(t, err)

	scans, err := db.Scans().Recent(10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "baseline", scans[0].ScanType)
	assert.Equal(t, "completed", scans[0].Status)
	assert.Equal(t, int64(1), scans[0].FilesChecked)
	require.NotNil(t, scans[0].FinishedAt)
}
