// Package scanner walks directory trees, maintains file baselines, and
// verifies the live filesystem against them.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// StoreOp reports what a baseline upsert did.
type StoreOp int

const (
	// OpInserted means a new baseline row was created.
	OpInserted StoreOp = iota
	// OpUpdated means an existing row was rewritten.
	OpUpdated
	// OpUnchanged means the row already matched and no write happened.
	OpUnchanged
)

// Stats accumulates counters over one scan pass.
type Stats struct {
	FilesScanned   uint64
	FilesAdded     uint64
	FilesUpdated   uint64
	FilesUnchanged uint64
	FilesSkipped   uint64
	Errors         uint64
}

// FileChange is one divergence found during verification.
type FileChange struct {
	Path       string
	ChangeType string // "new", "modified", "deleted"
	Details    string
}

// fileMetadata is the stat subset recorded in a baseline.
type fileMetadata struct {
	size    int64
	mode    uint32
	uid     uint32
	gid     uint32
	mtimeNS int64
}

// Scanner upserts and verifies baselines for one hash algorithm and one
// strategy. It is synchronous; the distributed scanner provides pacing.
type Scanner struct {
	store     *storage.BaselineStore
	scans     *storage.ScanStore
	strategy  baseline.Strategy
	bus       *events.Bus
	algorithm hash.Algorithm
	exclude   []string
	logger    zerolog.Logger
}

// New creates a scanner. The exclude list holds path prefixes that are
// never scanned (the strategy's excludes plus config overrides).
func New(store *storage.BaselineStore, scans *storage.ScanStore, strategy baseline.Strategy,
	bus *events.Bus, algorithm hash.Algorithm, exclude []string, logger zerolog.Logger) *Scanner {
	return &Scanner{
		store:     store,
		scans:     scans,
		strategy:  strategy,
		bus:       bus,
		algorithm: algorithm,
		exclude:   exclude,
		logger:    logger.With().Str("component", "scanner").Logger(),
	}
}

func (s *Scanner) shouldExclude(path string) bool {
	for _, prefix := range s.exclude {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

func getFileMetadata(path string) (fileMetadata, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return fileMetadata{}, fmt.Errorf("stat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileMetadata{}, fmt.Errorf("stat %s: unexpected stat type", path)
	}
	return fileMetadata{
		size:    info.Size(),
		mode:    st.Mode,
		uid:     st.Uid,
		gid:     st.Gid,
		mtimeNS: st.Mtim.Sec*1e9 + st.Mtim.Nsec,
	}, nil
}

// ScanFile hashes one file and upserts its baseline, asking the strategy
// for the origin label (defaulting to "scan" for untracked files).
func (s *Scanner) ScanFile(path string) (StoreOp, error) {
	return s.upsertFile(path, "")
}

// upsertFile performs the baseline upsert. A non-empty sourceOverride wins
// over the strategy's attribution.
func (s *Scanner) upsertFile(path, sourceOverride string) (StoreOp, error) {
	meta, err := getFileMetadata(path)
	if err != nil {
		return 0, err
	}

	digest, err := hash.HashFile(path, s.algorithm)
	if err != nil {
		return 0, err
	}

	source := sourceOverride
	if source == "" {
		if source = s.strategy.FileOrigin(path); source == "" {
			source = "scan"
		}
	}

	deployment := s.strategy.DeploymentID()
	existing, err := s.store.FindByPath(path, deployment)
	if err != nil {
		return 0, err
	}

	b := &storage.Baseline{
		Path:       path,
		HashAlg:    s.algorithm.String(),
		HashValue:  digest,
		Size:       meta.size,
		Mode:       meta.mode,
		UID:        meta.uid,
		GID:        meta.gid,
		MtimeNS:    meta.mtimeNS,
		Source:     source,
		Deployment: deployment,
	}

	if existing == nil {
		if err := s.store.Insert(b); err != nil {
			return 0, err
		}
		return OpInserted, nil
	}

	if existing.HashValue == b.HashValue &&
		existing.Size == b.Size &&
		existing.Mode == b.Mode &&
		existing.UID == b.UID &&
		existing.GID == b.GID {
		return OpUnchanged, nil
	}

	if err := s.store.Update(b); err != nil {
		return 0, err
	}
	return OpUpdated, nil
}

// ScanDirectory walks the tree rooted at dir and upserts a baseline for
// every regular file not excluded. A scan history row is recorded and a
// ScanCompleted event published.
func (s *Scanner) ScanDirectory(dir string) (Stats, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Stats{}, fmt.Errorf("%s is not a directory", dir)
	}

	scanID := uuid.NewString()
	s.logger.Info().Str("scan_id", scanID).Str("path", dir).Msg("Starting baseline scan")

	recordID, err := s.scans.Begin("baseline")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Could not record scan start")
	}

	start := time.Now()
	var stats Stats

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			stats.Errors++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if s.shouldExclude(path) {
			stats.FilesSkipped++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		op, err := s.ScanFile(path)
		if err != nil {
			stats.Errors++
			s.logger.Debug().Err(err).Str("path", path).Msg("Scan failed for file")
			return nil
		}
		stats.FilesScanned++
		switch op {
		case OpInserted:
			stats.FilesAdded++
		case OpUpdated:
			stats.FilesUpdated++
		case OpUnchanged:
			stats.FilesUnchanged++
		}
		return nil
	})
	if walkErr != nil {
		return stats, fmt.Errorf("walk %s: %w", dir, walkErr)
	}

	elapsed := time.Since(start)
	if recordID != 0 {
		changes := int64(stats.FilesAdded + stats.FilesUpdated)
		if err := s.scans.Finish(recordID, int64(stats.FilesScanned), changes, "completed"); err != nil {
			s.logger.Warn().Err(err).Msg("Could not record scan finish")
		}
	}

	s.bus.Publish(events.New(events.ScanCompleted{
		ScanPath:     dir,
		FilesScanned: stats.FilesScanned,
		Changes:      stats.FilesAdded,
		Elapsed:      elapsed,
	}, events.SeverityInfo, "scanner"))

	s.logger.Info().
		Str("scan_id", scanID).
		Uint64("scanned", stats.FilesScanned).
		Uint64("added", stats.FilesAdded).
		Uint64("updated", stats.FilesUpdated).
		Dur("elapsed", elapsed).
		Msg("Baseline scan completed")
	return stats, nil
}

// VerifyFile compares one file against its baseline. It returns nil when
// the file matches. Size and mtime short-circuit the hash computation. A
// detected modification rewrites the baseline row so the store always
// reflects current content; the next change is measured against it.
func (s *Scanner) VerifyFile(path string) (*FileChange, error) {
	deployment := s.strategy.DeploymentID()
	existing, err := s.store.FindByPath(path, deployment)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		change := &FileChange{Path: path, ChangeType: "new"}
		if digest, err := hash.HashFile(path, s.algorithm); err == nil {
			s.bus.Publish(events.New(events.FileCreated{
				Path: path,
				Hash: digest,
			}, events.SeverityWarning, "scanner"))
		}
		return change, nil
	}

	meta, err := getFileMetadata(path)
	if err != nil {
		return nil, err
	}

	if meta.size == existing.Size && meta.mtimeNS == existing.MtimeNS {
		return nil, nil
	}

	digest, err := hash.HashFile(path, s.algorithm)
	if err != nil {
		return nil, err
	}
	if digest == existing.HashValue {
		return nil, nil
	}

	details := fmt.Sprintf("Hash mismatch: expected %s, got %s", existing.HashValue, digest)
	s.bus.Publish(events.New(events.FileModified{
		Path:        path,
		OldHash:     existing.HashValue,
		NewHash:     digest,
		Description: details,
	}, events.SeverityCritical, "scanner"))

	if err := s.store.Update(&storage.Baseline{
		Path:       path,
		HashAlg:    s.algorithm.String(),
		HashValue:  digest,
		Size:       meta.size,
		Mode:       meta.mode,
		UID:        meta.uid,
		GID:        meta.gid,
		MtimeNS:    meta.mtimeNS,
		Source:     existing.Source,
		Deployment: existing.Deployment,
	}); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Could not record new baseline")
	}

	return &FileChange{Path: path, ChangeType: "modified", Details: details}, nil
}

// VerifyDirectory checks every file under dir against its baseline and
// every baseline under dir against the filesystem, reporting new, modified,
// and deleted files.
func (s *Scanner) VerifyDirectory(dir string) ([]FileChange, error) {
	var changes []FileChange
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if s.shouldExclude(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		seen[path] = true

		change, err := s.VerifyFile(path)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", path).Msg("Verification failed for file")
			return nil
		}
		if change != nil {
			changes = append(changes, *change)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, walkErr)
	}

	baselines, err := s.store.ListByPrefix(dir)
	if err != nil {
		return nil, err
	}
	for _, b := range baselines {
		if seen[b.Path] {
			continue
		}
		if _, err := os.Lstat(b.Path); os.IsNotExist(err) {
			changes = append(changes, FileChange{Path: b.Path, ChangeType: "deleted"})
			s.bus.Publish(events.New(events.FileDeleted{
				Path:          b.Path,
				LastKnownHash: b.HashValue,
			}, events.SeverityCritical, "scanner"))
		}
	}

	return changes, nil
}

// ScanUserPaths baselines per-user directories with an explicit origin
// label such as "user:alice". Missing directories are skipped silently;
// the label must be non-empty.
func (s *Scanner) ScanUserPaths(paths, exclude []string, source string) (Stats, error) {
	if source == "" {
		return Stats{}, fmt.Errorf("source identifier cannot be empty")
	}

	var stats Stats
	for _, dir := range paths {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			for _, prefix := range exclude {
				if path == prefix || strings.HasPrefix(path, prefix+"/") {
					stats.FilesSkipped++
					if d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
			}
			if !d.Type().IsRegular() {
				return nil
			}

			op, err := s.upsertFile(path, source)
			if err != nil {
				stats.Errors++
				return nil
			}
			stats.FilesScanned++
			switch op {
			case OpInserted:
				stats.FilesAdded++
			case OpUpdated:
				stats.FilesUpdated++
			case OpUnchanged:
				stats.FilesUnchanged++
			}
			return nil
		})
		if walkErr != nil {
			return stats, fmt.Errorf("walk %s: %w", dir, walkErr)
		}
	}
	return stats, nil
}
