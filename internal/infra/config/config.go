package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string
	LogLevel      string
	Environment   string
	Location      *time.Location // TIMEZONE; "now" for every job is taken in this zone

	CronSpecReminders  string
	CronSpecQueueDrain string

	ReminderWorkers  int
	QueueBatchSize   int
	QueueMaxAttempts int
	RateLimitGlobal  int
	RateLimitChannel int

	RedisURL string // optional; enables the distributed per-user lock

	SMTPHost     string // optional; email channel is unavailable without it
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOr("ENVIRONMENT", "development"))

	cfg.Location, err = time.LoadLocation(envOr("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.CronSpecReminders = envOr("CRON_SPEC_REMINDERS", "*/15 * * * *")    // every 15 minutes
	cfg.CronSpecQueueDrain = envOr("CRON_SPEC_QUEUE_DRAIN", "*/5 * * * *") // every 5 minutes

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"REMINDER_WORKERS", 1, &cfg.ReminderWorkers},
		{"QUEUE_BATCH_SIZE", 100, &cfg.QueueBatchSize},
		{"QUEUE_MAX_ATTEMPTS", 3, &cfg.QueueMaxAttempts},
		{"RATE_LIMIT_GLOBAL", 10, &cfg.RateLimitGlobal},
		{"RATE_LIMIT_CHANNEL", 3, &cfg.RateLimitChannel},
		{"SMTP_PORT", 587, &cfg.SMTPPort},
	}
	for _, it := range ints {
		if *it.dest, err = positiveIntEnv(it.key, it.def); err != nil {
			return nil, err
		}
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return v, nil
}
