package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletwise/budget-engine/budget"
)

var keys = []string{
	"APP_ENV", "HOST", "PORT", "SHUTDOWN_TIMEOUT", "CORS_ORIGINS", "DB_PATH", "TIMEZONE",
	"FIRST_WEEKDAY", "ROLLOVER_MODE", "SCHEDULER_ENABLED", "SCHEDULER_RUN_ON_START",
	"CRON_SCHEDULE", "LOG_LEVEL", "LOG_FORMAT",
}

// isolate points Load at an env file with the given content and unsets every
// key it reads, so neither a developer's .env nor the CI environment leaks in.
func isolate(t *testing.T, content string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "") // restored after the test
		os.Unsetenv(key)
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ENV_FILE", path)
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t, "")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Monday, cfg.Locale.FirstWeekday)
	assert.Equal(t, budget.RolloverPerPeriod, cfg.Budget.RolloverMode)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, logrus.InfoLevel, cfg.Log.Level)
}

func TestLoad_FromEnvFile(t *testing.T) {
	isolate(t, "PORT=9090\nTIMEZONE=Europe/Paris\nFIRST_WEEKDAY=sunday\nROLLOVER_MODE=collapse\n"+
		"CRON_SCHEDULE=@hourly\nLOG_LEVEL=debug\nCORS_ORIGINS=https://a.example, ,https://b.example\n")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Europe/Paris", cfg.Locale.Location.String())
	assert.Equal(t, time.Sunday, cfg.Locale.FirstWeekday)
	assert.Equal(t, budget.RolloverCollapse, cfg.Budget.RolloverMode)
	assert.Equal(t, "@hourly", cfg.Scheduler.Cron)
	assert.Equal(t, logrus.DebugLevel, cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "-1"},
		{"TIMEZONE", "Mars/Olympus"},
		{"FIRST_WEEKDAY", "someday"},
		{"ROLLOVER_MODE", "sometimes"},
		{"CRON_SCHEDULE", "every tuesday"},
		{"SCHEDULER_ENABLED", "perhaps"},
		{"LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			isolate(t, "")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseCSVEnv(t *testing.T) {
	t.Setenv("ORIGINS", " http://a , ,http://b ")

	assert.Equal(t, []string{"http://a", "http://b"}, parseCSVEnv("ORIGINS", nil))
	assert.Nil(t, parseCSVEnv("MISSING_ENV", nil))
}
