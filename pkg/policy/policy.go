// Package policy implements the admin-controlled home monitoring policy:
// who gets monitored and which paths cannot be opted out of.
package policy

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/user"
)

// ShouldMonitorUser decides whether a user's home directory is monitored.
// Policy listing (by name or group) forces monitoring; a user config may opt
// out only when the policy allows it. Without a policy listing, the user's
// own config decides, defaulting to off.
func ShouldMonitorUser(u user.Info, policy config.HomePolicyConfig, userConfigExists, userConfigEnabled bool) bool {
	listed := slices.Contains(policy.MonitorUsers, u.Username)
	if !listed {
		for _, group := range u.Groups {
			if slices.Contains(policy.MonitorGroups, group) {
				listed = true
				break
			}
		}
	}

	if listed {
		if policy.AllowUserOptOut && userConfigExists {
			return userConfigEnabled
		}
		return true
	}

	if userConfigExists {
		return userConfigEnabled
	}
	return false
}

// MergeHomeConfig combines a user's home monitoring preferences with the
// admin policy. User paths are made absolute against homeDir, mandatory
// paths are appended when absent, and exclusions equal to or under a
// mandatory path are dropped so users cannot shadow them.
func MergeHomeConfig(userCfg config.MonitorHomeConfig, policy config.HomePolicyConfig, homeDir string) config.MonitorHomeConfig {
	merged := config.MonitorHomeConfig{Enabled: userCfg.Enabled}

	for _, path := range userCfg.Paths {
		merged.Paths = append(merged.Paths, absolutize(path, homeDir))
	}

	for _, mandatory := range policy.MandatoryPaths {
		abs := absolutize(mandatory, homeDir)
		if !slices.Contains(merged.Paths, abs) {
			merged.Paths = append(merged.Paths, abs)
		}
	}

	for _, excl := range userCfg.Exclude {
		abs := absolutize(excl, homeDir)
		if !shadowsMandatory(abs, policy.MandatoryPaths, homeDir) {
			merged.Exclude = append(merged.Exclude, abs)
		}
	}

	return merged
}

func absolutize(path, homeDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(homeDir, path)
}

func shadowsMandatory(exclusion string, mandatoryPaths []string, homeDir string) bool {
	for _, mandatory := range mandatoryPaths {
		abs := absolutize(mandatory, homeDir)
		if exclusion == abs || strings.HasPrefix(exclusion, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
