package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_CREDENTIALS_FILE",
		"GOOGLE_CALENDAR_ID", "PRIMARY_TIMEZONE", "LOG_LEVEL",
		"DOCCAL_REDIRECT_URL", "DOCCAL_TOKEN_PATH", "DOCCAL_TARGET", "DOCCAL_METRICS_FILE",
		"DOCCAL_CALLBACK_TIMEOUT", "DOCCAL_EVENT_DURATION", "DOCCAL_EVENT_START_HOUR", "DOCCAL_WORKERS",
		"CALDAV_ENDPOINT", "ICLOUD_USERNAME", "ICLOUD_APP_SPECIFIC_PASSWORD", "ICLOUD_CALENDAR_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, TargetGoogle, cfg.Target)
	assert.Equal(t, "primary", cfg.CalendarID)
	assert.Equal(t, 10, cfg.EventStartHour)
	assert.Equal(t, time.Hour, cfg.EventDuration)
	assert.Equal(t, 5*time.Minute, cfg.CallbackTimeout)
	assert.Equal(t, 1, cfg.Workers)
	assert.NotEmpty(t, cfg.TokenPath)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
google_client_id: file-id
calendar_id: exams@group.calendar.google.com
timezone: UTC
event_start_hour: 9
event_duration: 90m
callback_timeout: 2m
workers: 4
caldav:
  calendar_name: School
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("GOOGLE_CLIENT_ID", "env-id")
	t.Setenv("DOCCAL_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.ClientID)
	assert.Equal(t, "exams@group.calendar.google.com", cfg.CalendarID)
	assert.Equal(t, 9, cfg.EventStartHour)
	assert.Equal(t, 90*time.Minute, cfg.EventDuration)
	assert.Equal(t, 2*time.Minute, cfg.CallbackTimeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "School", cfg.CalDAV.CalendarName)
	assert.Equal(t, "https://caldav.icloud.com/", cfg.CalDAV.Endpoint)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown target", map[string]string{"DOCCAL_TARGET": "outlook"}},
		{"bad timezone", map[string]string{"PRIMARY_TIMEZONE": "Mars/Olympus"}},
		{"bad start hour", map[string]string{"DOCCAL_EVENT_START_HOUR": "24"}},
		{"bad duration", map[string]string{"DOCCAL_CALLBACK_TIMEOUT": "soon"}},
		{"non-http redirect", map[string]string{"DOCCAL_REDIRECT_URL": "urn:ietf:wg:oauth:2.0:oob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
