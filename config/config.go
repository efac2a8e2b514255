// Package config loads application settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/factory"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Locale    LocaleConfig
	Budget    BudgetConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type DatabaseConfig struct {
	Path string
}

// LocaleConfig decides what a calendar day and a week are.
type LocaleConfig struct {
	Location     *time.Location
	FirstWeekday time.Weekday
}

type BudgetConfig struct {
	RolloverMode budget.RolloverMode
}

type SchedulerConfig struct {
	Enabled    bool
	Cron       string // standard 5-field cron expression
	RunOnStart bool
}

type LogConfig struct {
	Level  logrus.Level
	Format string // json or text
}

// Load reads the configuration from the environment and .env.
func Load() (Config, error) {
	cfg := Config{}

	if err := loadEnv(); err != nil {
		return cfg, err
	}

	cfg.Env = getEnv("APP_ENV", "local")

	port, err := parseIntEnv("PORT", 8080)
	if err != nil {
		return cfg, err
	}
	readTimeout, err := parseDurationEnv("SERVER_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	writeTimeout, err := parseDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return cfg, err
	}
	idleTimeout, err := parseDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return cfg, err
	}
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.Server = ServerConfig{
		Host:            getEnv("HOST", ""),
		Port:            port,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     parseCSVEnv("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	cfg.Database = DatabaseConfig{Path: getEnv("DB_PATH", "./data/budget.db")}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "Local"))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE must be an IANA zone name: %w", err)
	}
	firstWeekday, err := factory.ParseWeekday(getEnv("FIRST_WEEKDAY", "monday"))
	if err != nil {
		return cfg, fmt.Errorf("FIRST_WEEKDAY: %w", err)
	}
	cfg.Locale = LocaleConfig{Location: loc, FirstWeekday: firstWeekday}

	mode, err := budget.ParseRolloverMode(getEnv("ROLLOVER_MODE", string(budget.RolloverPerPeriod)))
	if err != nil {
		return cfg, fmt.Errorf("ROLLOVER_MODE: %w", err)
	}
	cfg.Budget = BudgetConfig{RolloverMode: mode}

	enabled, err := parseBoolEnv("SCHEDULER_ENABLED", true)
	if err != nil {
		return cfg, err
	}
	runOnStart, err := parseBoolEnv("SCHEDULER_RUN_ON_START", true)
	if err != nil {
		return cfg, err
	}
	cfg.Scheduler = SchedulerConfig{
		Enabled:    enabled,
		Cron:       getEnv("CRON_SCHEDULE", "5 0 * * *"),
		RunOnStart: runOnStart,
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.Log = LogConfig{Level: level, Format: strings.ToLower(getEnv("LOG_FORMAT", "json"))}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("CRON_SCHEDULE is invalid: %w", err)
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}

func parseCSVEnv(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func loadEnv() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
