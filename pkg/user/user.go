// Package user discovers interactive local users for home monitoring.
package user

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Info describes one local user account.
type Info struct {
	Username string
	UID      uint32
	GID      uint32
	HomeDir  string
	Shell    string
	Groups   []string
}

// Manager reads the password and group databases. The paths are fields so
// tests can point at fixtures.
type Manager struct {
	PasswdPath string
	GroupPath  string
}

// NewManager creates a manager over the system databases.
func NewManager() *Manager {
	return &Manager{PasswdPath: "/etc/passwd", GroupPath: "/etc/group"}
}

var nonInteractiveShells = map[string]bool{
	"/sbin/nologin":     true,
	"/usr/sbin/nologin": true,
	"/bin/false":        true,
	"/usr/bin/false":    true,
	"/bin/true":         true,
	"/usr/bin/true":     true,
}

func isInteractiveShell(shell string) bool {
	return shell != "" && !nonInteractiveShells[shell]
}

// DiscoverUsers returns all users with uid >= minUID and an interactive
// shell. Malformed passwd lines are skipped.
func (m *Manager) DiscoverUsers(minUID uint32) ([]Info, error) {
	f, err := os.Open(m.PasswdPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.PasswdPath, err)
	}
	defer f.Close()

	groups, err := m.loadGroups()
	if err != nil {
		return nil, err
	}

	var users []Info
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// username:x:uid:gid:comment:home:shell
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) != 7 {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		gid, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			continue
		}
		if uint32(uid) < minUID || !isInteractiveShell(fields[6]) {
			continue
		}
		users = append(users, Info{
			Username: fields[0],
			UID:      uint32(uid),
			GID:      uint32(gid),
			HomeDir:  fields[5],
			Shell:    fields[6],
			Groups:   groups[fields[0]],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", m.PasswdPath, err)
	}
	return users, nil
}

// loadGroups maps username to the groups that list them as members.
func (m *Manager) loadGroups() (map[string][]string, error) {
	f, err := os.Open(m.GroupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", m.GroupPath, err)
	}
	defer f.Close()

	byUser := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// groupname:x:gid:member1,member2
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) != 4 || fields[3] == "" {
			continue
		}
		for _, member := range strings.Split(fields[3], ",") {
			byUser[member] = append(byUser[member], fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", m.GroupPath, err)
	}
	return byUser, nil
}
