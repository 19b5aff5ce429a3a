package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("DATABASE_URL", "postgres://localhost/bills")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"LOG_LEVEL", "ENVIRONMENT", "TIMEZONE", "CRON_SPEC_REMINDERS", "CRON_SPEC_QUEUE_DRAIN",
		"REMINDER_WORKERS", "QUEUE_BATCH_SIZE", "QUEUE_MAX_ATTEMPTS", "RATE_LIMIT_GLOBAL", "RATE_LIMIT_CHANNEL",
		"REDIS_URL", "SMTP_HOST", "SMTP_PORT", "SMTP_FROM"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, "*/15 * * * *", cfg.CronSpecReminders)
	assert.Equal(t, "*/5 * * * *", cfg.CronSpecQueueDrain)
	assert.Equal(t, 1, cfg.ReminderWorkers)
	assert.Equal(t, 100, cfg.QueueBatchSize)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 10, cfg.RateLimitGlobal)
	assert.Equal(t, 3, cfg.RateLimitChannel)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("REMINDER_WORKERS", "4")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "bills@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, 4, cfg.ReminderWorkers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "smtp.example.com", cfg.SMTPHost)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"TELEGRAM_TOKEN": ""}},
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"non-numeric workers", map[string]string{"REMINDER_WORKERS": "many"}},
		{"zero rate limit", map[string]string{"RATE_LIMIT_GLOBAL": "0"}},
		{"smtp without sender", map[string]string{"SMTP_HOST": "smtp.example.com", "SMTP_FROM": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
