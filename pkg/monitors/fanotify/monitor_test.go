package fanotify

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

type pathsStrategy struct {
	exclude []string
}

func (s pathsStrategy) MonitorPaths() baseline.Paths { return baseline.Paths{Exclude: s.exclude} }
func (pathsStrategy) FileOrigin(string) string       { return "" }
func (pathsStrategy) DeploymentID() *string          { return nil }

func newTestMonitor(t *testing.T, exclude []string) (*Monitor, *storage.DB, *[]events.Event) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(zerolog.Nop())
	var got []events.Event
	bus.Subscribe(events.SeverityInfo, func(e events.Event) {
		got = append(got, e)
	})

	m := New(db.Baselines(), pathsStrategy{exclude: exclude}, bus, hash.BLAKE3, zerolog.Nop())
	return m, db, &got
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestNewFilePublishesCreated(t *testing.T) {
	m, _, got := newTestMonitor(t, nil)
	file := filepath.Join(t.TempDir(), "dropped")
	writeFile(t, file, "payload")

	m.handleEvent(file)

	require.Len(t, *got, 1)
	event := (*got)[0]
	assert.Equal(t, events.SeverityWarning, event.Severity)
	assert.Equal(t, "fanotify", event.Source)

	payload, ok := event.Payload.(events.FileCreated)
	require.True(t, ok)
	assert.Equal(t, file, payload.Path)
	assert.Equal(t, hash.HashBytes([]byte("payload"), hash.BLAKE3), payload.Hash)
}

func TestModifiedFilePublishesCritical(t *testing.T) {
	m, db, got := newTestMonitor(t, nil)
	file := filepath.Join(t.TempDir(), "binary")
	writeFile(t, file, "after")

	oldHash := hash.HashBytes([]byte("before"), hash.BLAKE3)
	require.NoError(t, db.Baselines().Insert(&storage.Baseline{
		Path:      file,
		HashAlg:   "blake3",
		HashValue: oldHash,
		Source:    "scan",
	}))

	m.handleEvent(file)

	require.Len(t, *got, 1)
	event := (*got)[0]
	assert.Equal(t, events.SeverityCritical, event.Severity)

	payload, ok := event.Payload.(events.FileModified)
	require.True(t, ok)
	assert.Equal(t, oldHash, payload.OldHash)
	assert.Equal(t, hash.HashBytes([]byte("after"), hash.BLAKE3), payload.NewHash)
	assert.Equal(t, "File content modified", payload.Description)
}

func TestUnchangedFileIsSilent(t *testing.T) {
	m, db, got := newTestMonitor(t, nil)
	file := filepath.Join(t.TempDir(), "same")
	writeFile(t, file, "steady")

	require.NoError(t, db.Baselines().Insert(&storage.Baseline{
		Path:      file,
		HashAlg:   "blake3",
		HashValue: hash.HashBytes([]byte("steady"), hash.BLAKE3),
		Source:    "scan",
	}))

	m.handleEvent(file)
	assert.Empty(t, *got)
}

func TestExcludedPathIsSilent(t *testing.T) {
	dir := t.TempDir()
	m, _, got := newTestMonitor(t, []string{dir})
	file := filepath.Join(dir, "noise")
	writeFile(t, file, "churn")

	m.handleEvent(file)
	assert.Empty(t, *got)
}

func TestNonRegularFileIsSilent(t *testing.T) {
	m, _, got := newTestMonitor(t, nil)
	m.handleEvent(t.TempDir())
	assert.Empty(t, *got)
}

func encodeRecord(t *testing.T, path string, mask uint64) []byte {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	require.NoError(t, err)

	meta := unix.FanotifyEventMetadata{
		Event_len:    uint32(metadataSize),
		Vers:         unix.FANOTIFY_METADATA_VERSION,
		Metadata_len: uint16(metadataSize),
		Mask:         mask,
		Fd:           int32(fd),
		Pid:          int32(os.Getpid()),
	}
	buf := make([]byte, metadataSize)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&meta)), metadataSize))
	return buf
}

func TestProcessBufferMergesWriteBurst(t *testing.T) {
	m, _, got := newTestMonitor(t, nil)
	file := filepath.Join(t.TempDir(), "burst")
	writeFile(t, file, "once")

	// One write burst: a modify record and a close-write record for the
	// same file in a single read. The file must be hashed and reported once.
	buf := append(encodeRecord(t, file, unix.FAN_MODIFY),
		encodeRecord(t, file, unix.FAN_CLOSE_WRITE)...)
	m.processBuffer(buf, len(buf))

	require.Len(t, *got, 1)
	payload, ok := (*got)[0].Payload.(events.FileCreated)
	require.True(t, ok)
	assert.Equal(t, file, payload.Path)
}

func TestProcessBufferRejectsVersionMismatch(t *testing.T) {
	m, _, got := newTestMonitor(t, nil)
	file := filepath.Join(t.TempDir(), "skewed")
	writeFile(t, file, "x")

	buf := encodeRecord(t, file, unix.FAN_CLOSE_WRITE)
	buf[4]++ // corrupt Vers
	m.processBuffer(buf, len(buf))

	assert.Empty(t, *got)
}

func TestStartRequiresInitialize(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	assert.Error(t, m.Start())
}
