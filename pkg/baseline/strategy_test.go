package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonywalker1/vigilant-canine/pkg/distro"
)

func TestForDistroSelectsVariant(t *testing.T) {
	assert.IsType(t, &traditionalStrategy{}, ForDistro(distro.Traditional))
	assert.IsType(t, &ostreeStrategy{}, ForDistro(distro.Ostree))
	assert.IsType(t, &btrfsStrategy{}, ForDistro(distro.BtrfsSnapshot))
}

func TestTraditionalMonitorPaths(t *testing.T) {
	paths := ForDistro(distro.Traditional).MonitorPaths()

	assert.Contains(t, paths.Critical, "/usr/bin")
	assert.Contains(t, paths.Critical, "/usr/lib64")
	assert.Equal(t, []string{"/etc"}, paths.Config)
	assert.Contains(t, paths.Exclude, "/tmp")
	assert.Contains(t, paths.Exclude, "/home")
	assert.NotContains(t, paths.Exclude, "/ostree")
}

func TestOstreeMonitorPaths(t *testing.T) {
	paths := ForDistro(distro.Ostree).MonitorPaths()

	assert.Equal(t, []string{"/usr"}, paths.Critical)
	assert.ElementsMatch(t, []string{"/etc", "/var"}, paths.Config)
	assert.Contains(t, paths.Exclude, "/ostree")
}

func TestBtrfsMonitorPaths(t *testing.T) {
	paths := ForDistro(distro.BtrfsSnapshot).MonitorPaths()

	assert.Contains(t, paths.Critical, "/usr")
	assert.Contains(t, paths.Exclude, "/.snapshots")
}

func TestOstreeOverlayOrigin(t *testing.T) {
	s := &ostreeStrategy{}

	// Overlay attribution needs no external tool.
	assert.Equal(t, "overlay", s.FileOrigin("/etc/hosts"))
	assert.Equal(t, "overlay", s.FileOrigin("/var/lib/something"))
	assert.Equal(t, "", s.FileOrigin("/boot/vmlinuz"))
}

func TestStrategiesShareCommonExcludes(t *testing.T) {
	for _, dt := range []distro.Type{distro.Traditional, distro.Ostree, distro.BtrfsSnapshot} {
		paths := ForDistro(dt).MonitorPaths()
		for _, expected := range []string{"/proc", "/sys", "/dev", "/run"} {
			require.Contains(t, paths.Exclude, expected, "distro %s", dt)
		}
	}
}
