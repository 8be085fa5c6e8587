// Package distro classifies the host so the right baseline strategy and
// origin labels are used.
package distro

import (
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sys/unix"
)

// Type is the update model of the host distribution.
type Type int

const (
	// Traditional is a mutable package-managed system (dnf, apt).
	Traditional Type = iota
	// Ostree is an image-based system with immutable /usr (Silverblue, Kinoite).
	Ostree
	// BtrfsSnapshot is a snapshot-rollback system (openSUSE MicroOS style).
	BtrfsSnapshot
)

// String returns the canonical type name.
func (t Type) String() string {
	switch t {
	case Ostree:
		return "ostree"
	case BtrfsSnapshot:
		return "btrfs_snapshot"
	}
	return "traditional"
}

// Info describes the detected distribution.
type Info struct {
	Name    string
	Version string
	Type    Type
}

// Detect probes the host. Ostree wins over Btrfs snapshots when both
// signals are present, since /usr immutability dominates baselining.
func Detect(logger zerolog.Logger) Info {
	log := logger.With().Str("component", "distro").Logger()

	info := Info{Name: "unknown", Type: Traditional}
	if hi, err := host.Info(); err == nil {
		info.Name = hi.Platform
		info.Version = hi.PlatformVersion
	} else {
		log.Warn().Err(err).Msg("Could not read host information")
	}

	switch {
	case isOstree():
		info.Type = Ostree
	case isBtrfsSnapshot():
		info.Type = BtrfsSnapshot
	}

	log.Info().
		Str("name", info.Name).
		Str("version", info.Version).
		Str("type", info.Type.String()).
		Msg("Detected distribution")
	return info
}

func isOstree() bool {
	if _, err := os.Stat("/ostree"); err != nil {
		return false
	}
	_, err := exec.LookPath("ostree")
	return err == nil
}

func isBtrfsSnapshot() bool {
	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err != nil || fs.Type != unix.BTRFS_SUPER_MAGIC {
		return false
	}
	for _, tool := range []string{"snapper", "transactional-update"} {
		if _, err := exec.LookPath(tool); err == nil {
			return true
		}
	}
	return false
}
