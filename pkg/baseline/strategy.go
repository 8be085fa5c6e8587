// Package baseline decides which paths are monitored and attributes files
// to their origin (package, deployment, overlay, snapshot).
package baseline

import (
	"os/exec"
	"strings"

	"github.com/tonywalker1/vigilant-canine/pkg/distro"
)

// Paths groups the path sets a strategy monitors.
type Paths struct {
	Critical []string // binaries and libraries; fanotify-marked
	Config   []string // configuration trees
	Exclude  []string // prefixes never scanned
}

// Strategy answers the three questions the scanner needs: what to monitor,
// where a file came from, and which deployment (if any) it belongs to.
// It is the only component that knows why a file exists; everything
// downstream treats the origin label as opaque.
type Strategy interface {
	MonitorPaths() Paths
	// FileOrigin attributes a file. Empty string means untracked.
	FileOrigin(path string) string
	// DeploymentID returns the current deployment identifier, or nil on
	// systems without deployments.
	DeploymentID() *string
}

// ForDistro returns the strategy matching the detected distribution type.
func ForDistro(t distro.Type) Strategy {
	switch t {
	case distro.Ostree:
		return &ostreeStrategy{}
	case distro.BtrfsSnapshot:
		return &btrfsStrategy{}
	}
	return &traditionalStrategy{}
}

var commonExcludes = []string{
	"/var/log", "/var/cache", "/var/tmp", "/tmp",
	"/home", "/root", "/proc", "/sys", "/dev", "/run",
}

// traditionalStrategy covers mutable package-managed systems.
type traditionalStrategy struct{}

func (*traditionalStrategy) MonitorPaths() Paths {
	return Paths{
		Critical: []string{
			"/usr/bin", "/usr/sbin", "/usr/lib", "/usr/lib64",
			// Often symlinks to their /usr counterparts.
			"/bin", "/sbin", "/lib", "/lib64",
		},
		Config:  []string{"/etc"},
		Exclude: commonExcludes,
	}
}

func (*traditionalStrategy) FileOrigin(path string) string {
	if pkg := queryRPMOwner(path); pkg != "" {
		return "rpm:" + pkg
	}
	if pkg := queryDpkgOwner(path); pkg != "" {
		return "deb:" + pkg
	}
	return ""
}

func (*traditionalStrategy) DeploymentID() *string { return nil }

// ostreeStrategy covers image-based systems with an immutable /usr.
type ostreeStrategy struct{}

func (*ostreeStrategy) MonitorPaths() Paths {
	return Paths{
		Critical: []string{"/usr"},
		Config:   []string{"/etc", "/var"},
		Exclude:  append(append([]string{}, commonExcludes...), "/ostree"),
	}
}

func (s *ostreeStrategy) FileOrigin(path string) string {
	if strings.HasPrefix(path, "/usr/") {
		if dep := s.DeploymentID(); dep != nil {
			return "image:" + *dep
		}
	}
	if strings.HasPrefix(path, "/etc/") || strings.HasPrefix(path, "/var/") {
		return "overlay"
	}
	return ""
}

func (*ostreeStrategy) DeploymentID() *string {
	out, err := exec.Command("ostree", "admin", "status", "--print-current-deployment").Output()
	if err != nil {
		return nil
	}
	dep := strings.TrimSpace(string(out))
	if dep == "" {
		return nil
	}
	return &dep
}

// btrfsStrategy covers snapshot-rollback systems.
type btrfsStrategy struct{}

func (*btrfsStrategy) MonitorPaths() Paths {
	return Paths{
		Critical: []string{"/usr", "/bin", "/sbin", "/lib", "/lib64"},
		Config:   []string{"/etc"},
		Exclude:  append(append([]string{}, commonExcludes...), "/.snapshots"),
	}
}

func (*btrfsStrategy) FileOrigin(path string) string {
	if pkg := queryRPMOwner(path); pkg != "" {
		return "rpm:" + pkg
	}
	return "snapshot:current"
}

func (*btrfsStrategy) DeploymentID() *string { return nil }

func queryRPMOwner(path string) string {
	out, err := exec.Command("rpm", "-qf", "--queryformat", "%{NAME}", path).Output()
	if err != nil {
		return ""
	}
	pkg := strings.TrimSpace(string(out))
	if pkg == "" || strings.Contains(pkg, "not owned") {
		return ""
	}
	return pkg
}

func queryDpkgOwner(path string) string {
	out, err := exec.Command("dpkg", "-S", path).Output()
	if err != nil {
		return ""
	}
	// Output: "package: /path"
	line := strings.TrimSpace(string(out))
	pkg, _, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(pkg)
}
