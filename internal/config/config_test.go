package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Equal(t, 6, cfg.DayStartHour)
	assert.Equal(t, 20, cfg.DayEndHour)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
week_start: Sunday
visible_days: 3
day_start_hour: 22
day_end_hour: 8
subscriptions:
  - name: School
    url: https://example.com/school.ics
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sunday", cfg.WeekStart)
	assert.Equal(t, time.Sunday, cfg.WeekStartDay())
	assert.Equal(t, 7, cfg.VisibleDays)
	assert.Equal(t, 6, cfg.DayStartHour)
	assert.Equal(t, 20, cfg.DayEndHour)
	require.Len(t, cfg.Subscriptions, 1)
	assert.Equal(t, "feed1", cfg.Subscriptions[0].ID)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("FAMILYCAL_LISTEN=0.0.0.0:9000\nFAMILYCAL_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("FAMILYCAL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen, ".env applies")
	assert.Equal(t, "warn", cfg.LogLevel, "process env wins over .env")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := DefaultConfig()
	in.Timezone = "Europe/Stockholm"
	in.BasicAuth = &BasicAuthConfig{Username: "family", Password: "s3cret"}
	require.NoError(t, in.Save(path))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in.Timezone, out.Timezone)
	require.NotNil(t, out.BasicAuth)
	assert.Equal(t, "family", out.BasicAuth.Username)

	loc, err := out.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Stockholm", loc.String())
}

func TestLocation_Invalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err := cfg.Location()
	assert.Error(t, err)
}
