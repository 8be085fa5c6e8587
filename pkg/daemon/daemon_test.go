package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestInitializeBuildsComponents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vc.db")
	path := writeConfig(t, `
[daemon]
db_path = "`+dbPath+`"

[scan]
on_boot = false

[monitor.home]
enabled = false
`)

	d := New(path, zerolog.Nop())
	require.NoError(t, d.Initialize())
	t.Cleanup(func() { d.db.Close() })

	assert.NotNil(t, d.db)
	assert.NotNil(t, d.bus)
	assert.NotNil(t, d.scanner)
	assert.NotNil(t, d.distributed)
	assert.NotNil(t, d.dispatcher)
	assert.NotNil(t, d.fanotify)
	// Journal, audit, and correlation default to enabled.
	assert.NotNil(t, d.journalMon)
	assert.NotNil(t, d.auditMon)
	assert.NotNil(t, d.engine)
}

func TestInitializeMissingConfigUsesDefaults(t *testing.T) {
	t.Setenv("VIGILANT_CANINE_DAEMON_DB_PATH", filepath.Join(t.TempDir(), "vc.db"))

	d := New(filepath.Join(t.TempDir(), "absent.toml"), zerolog.Nop())
	require.NoError(t, d.Initialize())
	t.Cleanup(func() { d.db.Close() })
	assert.True(t, d.cfg.Scan.OnBoot)
}

func TestInitializeRejectsBadAlgorithm(t *testing.T) {
	path := writeConfig(t, `
[hash]
algorithm = "md5"
`)
	d := New(path, zerolog.Nop())
	assert.Error(t, d.Initialize())
}

func TestRunRequiresInitialize(t *testing.T) {
	d := New("/nonexistent/config.toml", zerolog.Nop())
	assert.Error(t, d.Run())
}

func TestReloadSwapsConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vc.db")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[daemon]
db_path = "`+dbPath+`"

[scan]
interval_hours = 24
`), 0o644))

	d := New(path, zerolog.Nop())
	require.NoError(t, d.Initialize())
	t.Cleanup(func() { d.db.Close() })
	assert.Equal(t, 24, d.cfg.Scan.IntervalHours)

	require.NoError(t, os.WriteFile(path, []byte(`
[daemon]
db_path = "`+dbPath+`"

[scan]
interval_hours = 12
`), 0o644))

	require.NoError(t, d.reload())
	assert.Equal(t, 12, d.cfg.Scan.IntervalHours)
}

func TestStopAndReloadFlags(t *testing.T) {
	d := New("unused", zerolog.Nop())
	assert.False(t, d.shouldStop.Load())
	d.Stop()
	assert.True(t, d.shouldStop.Load())

	d.Reload()
	assert.True(t, d.shouldReload.Load())
}
