// Package home watches enrolled users' home paths with inotify and compares
// changed files against their per-user baselines.
package home

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// UserWatch is one enrolled user's merged monitoring set: absolute paths to
// watch and exclusion prefixes that survived the policy merge.
type UserWatch struct {
	Username string
	Paths    []string
	Exclude  []string
}

// Monitor owns one fsnotify watcher over every enrolled user's paths.
// It publishes divergences; baselines are written by the user scans, not
// here, so a reported change stays visible until the next scan records it.
type Monitor struct {
	store     *storage.BaselineStore
	bus       *events.Bus
	algorithm hash.Algorithm
	logger    zerolog.Logger

	watches []UserWatch
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a monitor for the given user watches.
func New(store *storage.BaselineStore, bus *events.Bus, algorithm hash.Algorithm,
	watches []UserWatch, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		bus:       bus,
		algorithm: algorithm,
		logger:    logger.With().Str("component", "home_monitor").Logger(),
		watches:   watches,
	}
}

// Start creates the watcher, registers every existing watch path and its
// subdirectories, and launches the event loop. Starting twice is a no-op.
func (m *Monitor) Start() error {
	if m.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	m.watcher = watcher

	for _, w := range m.watches {
		for _, root := range w.Paths {
			m.addTree(root)
		}
	}

	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.loop()

	m.logger.Info().Int("users", len(m.watches)).Msg("Home monitor started")
	return nil
}

// Stop shuts the loop down and closes the watcher.
func (m *Monitor) Stop() {
	if !m.running {
		return
	}
	close(m.stop)
	<-m.done
	m.watcher.Close()
	m.running = false
	m.logger.Info().Msg("Home monitor stopped")
}

// addTree registers dir and every directory below it. Inotify watches are
// not recursive.
func (m *Monitor) addTree(root string) {
	if _, err := os.Stat(root); err != nil {
		return
	}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := m.watcher.Add(path); err != nil {
			m.logger.Debug().Err(err).Str("path", path).Msg("Could not watch directory")
		}
		return nil
	})
}

func (m *Monitor) loop() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// isNoise filters editor and download temporaries that churn constantly in
// home directories.
func isNoise(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".part") ||
		strings.HasPrefix(base, ".#")
}

// ownerFor returns the enrolled user whose watch covers path, honoring that
// user's exclusions.
func (m *Monitor) ownerFor(path string) (string, bool) {
	for _, w := range m.watches {
		covered := false
		for _, root := range w.Paths {
			if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
				covered = true
				break
			}
		}
		if !covered {
			continue
		}
		for _, excl := range w.Exclude {
			if path == excl || strings.HasPrefix(path, excl+string(filepath.Separator)) {
				return "", false
			}
		}
		return w.Username, true
	}
	return "", false
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	path := event.Name
	if isNoise(path) {
		return
	}
	username, ok := m.ownerFor(path)
	if !ok {
		return
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		m.handleRemoved(path)
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			m.addTree(path)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		m.compareContent(path, username)
	case event.Has(fsnotify.Chmod):
		m.compareMode(path, uint32(info.Mode().Perm()))
	}
}

func (m *Monitor) handleRemoved(path string) {
	b, err := m.store.FindByPath(path, nil)
	if err != nil || b == nil {
		return
	}
	m.bus.Publish(events.New(events.FileDeleted{
		Path:          path,
		LastKnownHash: b.HashValue,
	}, events.SeverityCritical, "home_monitor"))
}

func (m *Monitor) compareContent(path, username string) {
	b, err := m.store.FindByPath(path, nil)
	if err != nil {
		return
	}

	digest, err := hash.HashFile(path, m.algorithm)
	if err != nil {
		return
	}

	if b == nil {
		m.bus.Publish(events.New(events.FileCreated{
			Path:   path,
			Hash:   digest,
			Source: "user:" + username,
		}, events.SeverityWarning, "home_monitor"))
		return
	}
	if digest == b.HashValue {
		return
	}
	m.bus.Publish(events.New(events.FileModified{
		Path:        path,
		OldHash:     b.HashValue,
		NewHash:     digest,
		Description: "File content modified",
	}, events.SeverityCritical, "home_monitor"))
}

func (m *Monitor) compareMode(path string, mode uint32) {
	b, err := m.store.FindByPath(path, nil)
	if err != nil || b == nil {
		return
	}
	oldPerm := b.Mode & 0o777
	if oldPerm == mode {
		return
	}
	m.bus.Publish(events.New(events.FilePermissionChanged{
		Path:    path,
		OldMode: oldPerm,
		NewMode: mode,
	}, events.SeverityWarning, "home_monitor"))
}
