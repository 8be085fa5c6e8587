// Package fanotify watches the monitored mounts through the kernel fanotify
// channel and publishes baseline divergences as they happen.
package fanotify

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

const (
	eventBufferSize = 4096
	pollTimeoutMS   = 1000

	watchMask = unix.FAN_MODIFY | unix.FAN_CLOSE_WRITE
)

var metadataSize = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))

// Monitor marks the strategy's mounts for modify and close-after-write
// events and compares changed files against their baselines.
type Monitor struct {
	store     *storage.BaselineStore
	strategy  baseline.Strategy
	bus       *events.Bus
	algorithm hash.Algorithm
	logger    zerolog.Logger

	fd      int
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates an uninitialized monitor. Initialize opens the kernel channel.
func New(store *storage.BaselineStore, strategy baseline.Strategy, bus *events.Bus,
	algorithm hash.Algorithm, logger zerolog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		strategy:  strategy,
		bus:       bus,
		algorithm: algorithm,
		logger:    logger.With().Str("component", "fanotify").Logger(),
		fd:        -1,
	}
}

// Initialize opens the fanotify descriptor and marks every existing
// monitored mount. Critical-path mark failures are fatal; config paths are
// best effort.
func (m *Monitor) Initialize() error {
	fd, err := unix.FanotifyInit(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC|unix.FAN_NONBLOCK,
		unix.O_RDONLY)
	if err != nil {
		return fmt.Errorf("fanotify init failed: %w (requires CAP_SYS_ADMIN)", err)
	}
	m.fd = fd

	paths := m.strategy.MonitorPaths()
	for _, path := range paths.Critical {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := unix.FanotifyMark(m.fd, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT,
			watchMask, unix.AT_FDCWD, path); err != nil {
			unix.Close(m.fd)
			m.fd = -1
			return fmt.Errorf("fanotify mark %s failed: %w", path, err)
		}
	}
	for _, path := range paths.Config {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := unix.FanotifyMark(m.fd, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT,
			watchMask, unix.AT_FDCWD, path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("Could not mark config path")
		}
	}
	return nil
}

// Start launches the read loop. Starting an uninitialized monitor is an
// error; starting twice is a no-op.
func (m *Monitor) Start() error {
	if m.fd < 0 {
		return errors.New("fanotify monitor not initialized")
	}
	if m.running {
		return nil
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.loop()
	m.logger.Info().Msg("Fanotify monitor started")
	return nil
}

// Stop signals the loop, waits for it, and closes the descriptor.
func (m *Monitor) Stop() {
	if !m.running {
		return
	}
	close(m.stop)
	<-m.done
	m.running = false

	if m.fd >= 0 {
		unix.Close(m.fd)
		m.fd = -1
	}
	m.logger.Info().Msg("Fanotify monitor stopped")
}

func (m *Monitor) loop() {
	defer close(m.done)

	buf := make([]byte, eventBufferSize)
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.logger.Error().Err(err).Msg("Fanotify poll failed")
			return
		}
		if n == 0 {
			continue
		}

		length, err := unix.Read(m.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			m.logger.Error().Err(err).Msg("Fanotify read failed")
			return
		}
		m.processBuffer(buf, length)
	}
}

// processBuffer walks one read's worth of event records. A write burst
// delivers FAN_MODIFY and FAN_CLOSE_WRITE records for the same file in one
// batch; masks are merged per path so each file is hashed once.
func (m *Monitor) processBuffer(buf []byte, length int) {
	batch := make(map[string]uint64)

	offset := 0
	for offset+metadataSize <= length {
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[offset]))
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			m.logger.Error().Uint8("version", meta.Vers).Msg("Fanotify metadata version mismatch")
			return
		}
		if meta.Event_len < uint32(metadataSize) || offset+int(meta.Event_len) > length {
			return
		}

		if meta.Fd >= 0 {
			if path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", meta.Fd)); err == nil {
				batch[path] |= meta.Mask
			}
			unix.Close(int(meta.Fd))
		}
		offset += int(meta.Event_len)
	}

	for path := range batch {
		m.handleEvent(path)
	}
}

// handleEvent compares one changed file against its baseline.
func (m *Monitor) handleEvent(path string) {
	if m.shouldExclude(path) {
		return
	}

	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	b, err := m.store.FindByPath(path, m.strategy.DeploymentID())
	if err != nil {
		m.logger.Debug().Err(err).Str("path", path).Msg("Baseline lookup failed")
		return
	}

	if b == nil {
		digest, err := hash.HashFile(path, m.algorithm)
		if err != nil {
			return
		}
		m.bus.Publish(events.New(events.FileCreated{
			Path: path,
			Hash: digest,
		}, events.SeverityWarning, "fanotify"))
		return
	}

	digest, err := hash.HashFile(path, m.algorithm)
	if err != nil {
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
	}, events.SeverityCritical, "fanotify"))
}

func (m *Monitor) shouldExclude(path string) bool {
	for _, prefix := range m.strategy.MonitorPaths().Exclude {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
