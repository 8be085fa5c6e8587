// Package config loads the daemon configuration tree from TOML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPath is the system-wide configuration file location.
const DefaultPath = "/etc/vigilant-canine/config.toml"

// Config is the top-level configuration struct for the daemon.
// Tags are used by Viper to map TOML keys to struct fields.
type Config struct {
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Hash        HashConfig        `mapstructure:"hash"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Alerts      AlertConfig       `mapstructure:"alerts"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Policy      PolicyConfig      `mapstructure:"policy"`
}

// DaemonConfig holds process-wide settings.
type DaemonConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	DBPath        string `mapstructure:"db_path"`
	WorkerThreads int    `mapstructure:"worker_threads"` // 0 = auto-detect
}

// HashConfig selects the digest algorithm for baselines.
type HashConfig struct {
	Algorithm string `mapstructure:"algorithm"` // "blake3" or "sha256"
}

// MonitorConfig groups the monitoring scopes.
type MonitorConfig struct {
	System  MonitorSystemConfig  `mapstructure:"system"`
	Flatpak MonitorFlatpakConfig `mapstructure:"flatpak"`
	Ostree  MonitorOstreeConfig  `mapstructure:"ostree"`
	Home    MonitorHomeConfig    `mapstructure:"home"`
}

// MonitorSystemConfig overrides the critical path set.
type MonitorSystemConfig struct {
	Paths   []string `mapstructure:"paths"`
	Exclude []string `mapstructure:"exclude"`
}

// MonitorFlatpakConfig enables flatpak installation monitoring.
type MonitorFlatpakConfig struct {
	Enabled bool `mapstructure:"enabled"`
	System  bool `mapstructure:"system"`
	User    bool `mapstructure:"user"`
}

// MonitorOstreeConfig enables ostree deployment monitoring.
type MonitorOstreeConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	VerifyDeployments  bool `mapstructure:"verify_deployments"`
	MonitorObjectStore bool `mapstructure:"monitor_object_store"`
}

// MonitorHomeConfig enables per-user home directory monitoring.
type MonitorHomeConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Paths   []string `mapstructure:"paths"`
	Exclude []string `mapstructure:"exclude"`
}

// AlertConfig enables the individual alert sinks.
type AlertConfig struct {
	Journal bool `mapstructure:"journal"`
	DBus    bool `mapstructure:"dbus"`
	Socket  bool `mapstructure:"socket"`
}

// ScanConfig shapes the distributed scanner.
type ScanConfig struct {
	Schedule              string  `mapstructure:"schedule"`
	OnBoot                bool    `mapstructure:"on_boot"`
	IntervalHours         int     `mapstructure:"interval_hours"`
	BatchSize             int     `mapstructure:"batch_size"` // 0 = derive from interval
	AdaptivePacing        bool    `mapstructure:"adaptive_pacing"`
	BatteryPauseThreshold int     `mapstructure:"battery_pause_threshold"`
	BatterySlowdownFactor float64 `mapstructure:"battery_slowdown_factor"`
}

// FieldMatchConfig is one field predicate inside a rule. All predicates of a
// rule must hold for the rule to match.
type FieldMatchConfig struct {
	Field   string `mapstructure:"field"`
	Pattern string `mapstructure:"pattern"`
	Type    string `mapstructure:"type"` // exact, contains, starts_with, regex, numeric_eq, numeric_gt, numeric_lt
	Negate  bool   `mapstructure:"negate"`
}

// JournalRuleConfig is one journal matching rule.
type JournalRuleConfig struct {
	Name        string             `mapstructure:"name"`
	Description string             `mapstructure:"description"`
	Match       []FieldMatchConfig `mapstructure:"match"`
	Action      string             `mapstructure:"action"`
	Severity    string             `mapstructure:"severity"`
	Enabled     bool               `mapstructure:"enabled"`
}

// JournalConfig configures the journal matcher.
type JournalConfig struct {
	Enabled            bool                `mapstructure:"enabled"`
	MaxPriority        uint8               `mapstructure:"max_priority"`
	ExcludeUnits       []string            `mapstructure:"exclude_units"`
	ExcludeIdentifiers []string            `mapstructure:"exclude_identifiers"`
	Rules              []JournalRuleConfig `mapstructure:"rules"`
}

// CorrelationRuleConfig is one threshold escalation rule.
type CorrelationRuleConfig struct {
	Name              string `mapstructure:"name"`
	EventMatch        string `mapstructure:"event_match"`
	Threshold         int    `mapstructure:"threshold"`
	WindowSeconds     int    `mapstructure:"window_seconds"`
	EscalatedSeverity string `mapstructure:"escalated_severity"`
}

// CorrelationConfig configures the correlation engine.
type CorrelationConfig struct {
	Enabled       bool                    `mapstructure:"enabled"`
	WindowSeconds int                     `mapstructure:"window_seconds"`
	Rules         []CorrelationRuleConfig `mapstructure:"rules"`
}

// AuditRuleConfig is one kernel audit matching rule.
type AuditRuleConfig struct {
	Name          string             `mapstructure:"name"`
	Description   string             `mapstructure:"description"`
	Match         []FieldMatchConfig `mapstructure:"match"`
	Action        string             `mapstructure:"action"`
	Severity      string             `mapstructure:"severity"`
	Enabled       bool               `mapstructure:"enabled"`
	SyscallFilter uint32             `mapstructure:"syscall_filter"` // 0 = any syscall
}

// AuditConfig configures the kernel audit assembler.
type AuditConfig struct {
	Enabled              bool              `mapstructure:"enabled"`
	SanitizeCommandLines bool              `mapstructure:"sanitize_command_lines"`
	ExcludeComms         []string          `mapstructure:"exclude_comms"`
	ExcludeUIDs          []uint32          `mapstructure:"exclude_uids"`
	Rules                []AuditRuleConfig `mapstructure:"rules"`
}

// PolicyConfig wraps admin policies.
type PolicyConfig struct {
	Home HomePolicyConfig `mapstructure:"home"`
}

// HomePolicyConfig governs per-user home monitoring enrollment.
type HomePolicyConfig struct {
	MonitorUsers    []string `mapstructure:"monitor_users"`
	MonitorGroups   []string `mapstructure:"monitor_groups"`
	AllowUserOptOut bool     `mapstructure:"allow_user_opt_out"`
	MandatoryPaths  []string `mapstructure:"mandatory_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.log_level", "info")
	v.SetDefault("daemon.db_path", "/var/lib/vigilant-canine/vc.db")
	v.SetDefault("daemon.worker_threads", 0)
	v.SetDefault("hash.algorithm", "blake3")
	v.SetDefault("monitor.flatpak.enabled", true)
	v.SetDefault("monitor.flatpak.system", true)
	v.SetDefault("monitor.flatpak.user", false)
	v.SetDefault("monitor.ostree.enabled", true)
	v.SetDefault("monitor.ostree.verify_deployments", true)
	v.SetDefault("monitor.ostree.monitor_object_store", true)
	v.SetDefault("monitor.home.enabled", false)
	v.SetDefault("alerts.journal", true)
	v.SetDefault("alerts.dbus", true)
	v.SetDefault("alerts.socket", true)
	v.SetDefault("scan.schedule", "daily")
	v.SetDefault("scan.on_boot", true)
	v.SetDefault("scan.interval_hours", 24)
	v.SetDefault("scan.batch_size", 0)
	v.SetDefault("scan.adaptive_pacing", true)
	v.SetDefault("scan.battery_pause_threshold", 20)
	v.SetDefault("scan.battery_slowdown_factor", 2.0)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.max_priority", 6)
	v.SetDefault("correlation.enabled", true)
	v.SetDefault("correlation.window_seconds", 300)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.sanitize_command_lines", true)
	v.SetDefault("policy.home.allow_user_opt_out", true)
}

// LoadConfig reads the configuration from the TOML file at path and
// environment variables. A missing file yields defaults; a malformed file or
// an unknown hash algorithm is an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	setDefaults(v)

	v.SetEnvPrefix("VIGILANT_CANINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate applies hard constraints. Most fields tolerate anything and fall
// back at use sites, but an algorithm typo would silently rebaseline the
// whole system, so it refuses to start.
func validate(cfg *Config) error {
	switch cfg.Hash.Algorithm {
	case "blake3", "sha256":
	default:
		return fmt.Errorf("invalid hash algorithm: %q", cfg.Hash.Algorithm)
	}
	if cfg.Scan.IntervalHours <= 0 {
		cfg.Scan.IntervalHours = 24
	}
	if cfg.Scan.BatterySlowdownFactor < 1 {
		cfg.Scan.BatterySlowdownFactor = 1
	}
	return nil
}
