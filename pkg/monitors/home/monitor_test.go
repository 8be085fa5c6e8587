package home

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

type capture struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *capture) add(e events.Event) {
	c.mu.Lock()
	c.got = append(c.got, e)
	c.mu.Unlock()
}

func (c *capture) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.got...)
}

func newTestMonitor(t *testing.T, watches []UserWatch) (*Monitor, *storage.DB, *capture) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(zerolog.Nop())
	c := &capture{}
	bus.Subscribe(events.SeverityInfo, c.add)

	m := New(db.Baselines(), bus, hash.BLAKE3, watches, zerolog.Nop())
	return m, db, c
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestNewUserFileAttributed(t *testing.T) {
	home := t.TempDir()
	m, _, c := newTestMonitor(t, []UserWatch{{Username: "alice", Paths: []string{home}}})

	file := filepath.Join(home, ".bashrc")
	writeFile(t, file, "alias ll='ls -l'")
	m.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Create})

	got := c.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, events.SeverityWarning, got[0].Severity)
	assert.Equal(t, "home_monitor", got[0].Source)

	payload, ok := got[0].Payload.(events.FileCreated)
	require.True(t, ok)
	assert.Equal(t, "user:alice", payload.Source)
	assert.Equal(t, hash.HashBytes([]byte("alias ll='ls -l'"), hash.BLAKE3), payload.Hash)
}

func TestModifiedBaselinedFile(t *testing.T) {
	home := t.TempDir()
	m, db, c := newTestMonitor(t, []UserWatch{{Username: "alice", Paths: []string{home}}})

	file := filepath.Join(home, "authorized_keys")
	writeFile(t, file, "new key")
	oldHash := hash.HashBytes([]byte("old key"), hash.BLAKE3)
	require.NoError(t, db.Baselines().Insert(&storage.Baseline{
		Path:      file,
		HashAlg:   "blake3",
		HashValue: oldHash,
		Source:    "user:alice",
	}))

	m.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Write})

	got := c.snapshot()
	require.Len(t, got, 1)
	payload, ok := got[0].Payload.(events.FileModified)
	require.True(t, ok)
	assert.Equal(t, oldHash, payload.OldHash)
	assert.Equal(t, events.SeverityCritical, got[0].Severity)
}

func TestRemovedBaselinedFile(t *testing.T) {
	home := t.TempDir()
	m, db, c := newTestMonitor(t, []UserWatch{{Username: "bob", Paths: []string{home}}})

	file := filepath.Join(home, "secrets.gpg")
	require.NoError(t, db.Baselines().Insert(&storage.Baseline{
		Path:      file,
		HashAlg:   "blake3",
		HashValue: "abc",
		Source:    "user:bob",
	}))

	m.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Remove})

	got := c.snapshot()
	require.Len(t, got, 1)
	payload, ok := got[0].Payload.(events.FileDeleted)
	require.True(t, ok)
	assert.Equal(t, "abc", payload.LastKnownHash)
}

func TestPermissionChange(t *testing.T) {
	home := t.TempDir()
	m, db, c := newTestMonitor(t, []UserWatch{{Username: "alice", Paths: []string{home}}})

	file := filepath.Join(home, "id_ed25519")
	writeFile(t, file, "key material")
	require.NoError(t, os.Chmod(file, 0o644))
	require.NoError(t, db.Baselines().Insert(&storage.Baseline{
		Path:      file,
		HashAlg:   "blake3",
		HashValue: hash.HashBytes([]byte("key material"), hash.BLAKE3),
		Mode:      0o100600,
		Source:    "user:alice",
	}))

	m.handleEvent(fsnotify.Event{Name: file, Op: fsnotify.Chmod})

	got := c.snapshot()
	require.Len(t, got, 1)
	payload, ok := got[0].Payload.(events.FilePermissionChanged)
	require.True(t, ok)
	assert.Equal(t, uint32(0o600), payload.OldMode)
	assert.Equal(t, uint32(0o644), payload.NewMode)
}

func TestExclusionsAndNoiseIgnored(t *testing.T) {
	home := t.TempDir()
	cache := filepath.Join(home, ".cache")
	require.NoError(t, os.Mkdir(cache, 0o755))
	m, _, c := newTestMonitor(t, []UserWatch{{
		Username: "alice",
		Paths:    []string{home},
		Exclude:  []string{cache},
	}})

	junk := filepath.Join(cache, "thumb.png")
	writeFile(t, junk, "pixels")
	m.handleEvent(fsnotify.Event{Name: junk, Op: fsnotify.Create})

	swap := filepath.Join(home, ".notes.txt.swp")
	writeFile(t, swap, "editor state")
	m.handleEvent(fsnotify.Event{Name: swap, Op: fsnotify.Create})

	outside := filepath.Join(t.TempDir(), "stray")
	writeFile(t, outside, "not watched")
	m.handleEvent(fsnotify.Event{Name: outside, Op: fsnotify.Create})

	assert.Empty(t, c.snapshot())
}

func TestLiveWatcherSeesWrites(t *testing.T) {
	home := t.TempDir()
	m, _, c := newTestMonitor(t, []UserWatch{{Username: "alice", Paths: []string{home}}})

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	writeFile(t, filepath.Join(home, "note.txt"), "hello")

	assert.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if _, ok := e.Payload.(events.FileCreated); ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartStopIdempotent(t *testing.T) {
	home := t.TempDir()
	m, _, _ := newTestMonitor(t, []UserWatch{{Username: "alice", Paths: []string{home}}})

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	m.Stop()
	m.Stop()
}
