package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Daemon.LogLevel)
	assert.Equal(t, "/var/lib/vigilant-canine/vc.db", cfg.Daemon.DBPath)
	assert.Equal(t, 0, cfg.Daemon.WorkerThreads)
	assert.Equal(t, "blake3", cfg.Hash.Algorithm)
	assert.True(t, cfg.Alerts.Journal)
	assert.True(t, cfg.Alerts.DBus)
	assert.True(t, cfg.Alerts.Socket)
	assert.Equal(t, "daily", cfg.Scan.Schedule)
	assert.True(t, cfg.Scan.OnBoot)
	assert.Equal(t, 24, cfg.Scan.IntervalHours)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, uint8(6), cfg.Journal.MaxPriority)
	assert.True(t, cfg.Correlation.Enabled)
	assert.Equal(t, 300, cfg.Correlation.WindowSeconds)
	assert.True(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Audit.SanitizeCommandLines)
	assert.True(t, cfg.Policy.Home.AllowUserOptOut)
	assert.False(t, cfg.Monitor.Home.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
[daemon]
log_level = "debug"
db_path = "/tmp/test-vc.db"

[hash]
algorithm = "sha256"

[monitor.system]
paths = ["/usr/bin", "/etc"]
exclude = ["/usr/bin/skip"]

[scan]
interval_hours = 12
batch_size = 50
battery_pause_threshold = 30

[[journal.rules]]
name = "custom_rule"
severity = "critical"
enabled = true

  [[journal.rules.match]]
  field = "message"
  pattern = "boom"
  type = "contains"

[[correlation.rules]]
name = "burst"
event_match = "FileCreated"
threshold = 3
window_seconds = 60
escalated_severity = "critical"

[policy.home]
monitor_users = ["alice"]
mandatory_paths = [".ssh", ".bashrc"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Daemon.LogLevel)
	assert.Equal(t, "/tmp/test-vc.db", cfg.Daemon.DBPath)
	assert.Equal(t, "sha256", cfg.Hash.Algorithm)
	assert.Equal(t, []string{"/usr/bin", "/etc"}, cfg.Monitor.System.Paths)
	assert.Equal(t, 12, cfg.Scan.IntervalHours)
	assert.Equal(t, 50, cfg.Scan.BatchSize)
	assert.Equal(t, 30, cfg.Scan.BatteryPauseThreshold)

	require.Len(t, cfg.Journal.Rules, 1)
	assert.Equal(t, "custom_rule", cfg.Journal.Rules[0].Name)
	require.Len(t, cfg.Journal.Rules[0].Match, 1)
	assert.Equal(t, "message", cfg.Journal.Rules[0].Match[0].Field)
	assert.Equal(t, "boom", cfg.Journal.Rules[0].Match[0].Pattern)

	require.Len(t, cfg.Correlation.Rules, 1)
	assert.Equal(t, "FileCreated", cfg.Correlation.Rules[0].EventMatch)
	assert.Equal(t, 3, cfg.Correlation.Rules[0].Threshold)

	assert.Equal(t, []string{"alice"}, cfg.Policy.Home.MonitorUsers)
	assert.Equal(t, []string{".ssh", ".bashrc"}, cfg.Policy.Home.MandatoryPaths)
}

func TestLoadConfigInvalidAlgorithm(t *testing.T) {
	path := writeConfig(t, `
[hash]
algorithm = "md5"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hash algorithm")
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := writeConfig(t, "not [valid toml ===")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigUnknownFieldsTolerated(t *testing.T) {
	path := writeConfig(t, `
[daemon]
log_level = "warn"
some_future_option = 42
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Daemon.LogLevel)
}
