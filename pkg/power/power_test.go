package power

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSupply(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content+"\n"), 0o644))
	}
}

func TestReadNoBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "1"})

	state := NewSensorAt(root, zerolog.Nop()).Read()
	assert.Equal(t, SourceAC, state.Source)
	assert.Equal(t, 100, state.BatteryPercent)
	assert.False(t, state.HasBattery)
}

func TestReadDischargingBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", map[string]string{
		"type": "Battery", "status": "Discharging", "capacity": "42",
	})

	state := NewSensorAt(root, zerolog.Nop()).Read()
	assert.Equal(t, SourceBattery, state.Source)
	assert.Equal(t, 42, state.BatteryPercent)
	assert.True(t, state.HasBattery)
}

func TestReadChargingBatteryIsAC(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", map[string]string{
		"type": "Battery", "status": "Charging", "capacity": "80",
	})

	state := NewSensorAt(root, zerolog.Nop()).Read()
	assert.Equal(t, SourceAC, state.Source)
	assert.True(t, state.HasBattery)
}

func TestReadClampsCapacity(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", map[string]string{
		"type": "Battery", "status": "Discharging", "capacity": "130",
	})

	state := NewSensorAt(root, zerolog.Nop()).Read()
	assert.Equal(t, 100, state.BatteryPercent)
}

func TestReadMissingSysfsAssumesAC(t *testing.T) {
	state := NewSensorAt(filepath.Join(t.TempDir(), "absent"), zerolog.Nop()).Read()
	assert.Equal(t, SourceAC, state.Source)
	assert.False(t, state.HasBattery)
}
