// Package power reads the AC/battery state from sysfs so the distributed
// scanner can pace itself on laptops.
package power

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Source is where the machine currently draws power from.
type Source int

const (
	// SourceAC means mains power (or no battery at all).
	SourceAC Source = iota
	// SourceBattery means at least one battery is discharging.
	SourceBattery
)

// String returns "ac" or "battery".
func (s Source) String() string {
	if s == SourceBattery {
		return "battery"
	}
	return "ac"
}

// State is a point-in-time power reading.
type State struct {
	Source         Source
	BatteryPercent int
	HasBattery     bool
}

// Sensor reads /sys/class/power_supply. Systems without a battery, and any
// sysfs read failure, report AC power so scanning never stalls on a desktop.
type Sensor struct {
	root   string
	logger zerolog.Logger
}

// NewSensor creates a sensor over the standard sysfs location.
func NewSensor(logger zerolog.Logger) *Sensor {
	return &Sensor{
		root:   "/sys/class/power_supply",
		logger: logger.With().Str("component", "power").Logger(),
	}
}

// NewSensorAt creates a sensor rooted at a different directory, for tests.
func NewSensorAt(root string, logger zerolog.Logger) *Sensor {
	s := NewSensor(logger)
	s.root = root
	return s
}

// Read returns the current power state. The default when no battery is
// present or sysfs is unreadable is {AC, 100%, no battery}.
func (s *Sensor) Read() State {
	state := State{Source: SourceAC, BatteryPercent: 100}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return state
	}

	for _, entry := range entries {
		dir := filepath.Join(s.root, entry.Name())
		if readSysfs(dir, "type") != "Battery" {
			continue
		}
		state.HasBattery = true

		if readSysfs(dir, "status") == "Discharging" {
			state.Source = SourceBattery
		}
		if capacity, err := strconv.Atoi(readSysfs(dir, "capacity")); err == nil {
			state.BatteryPercent = clamp(capacity, 0, 100)
		}
	}

	return state
}

func readSysfs(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
