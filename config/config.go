package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabasePath         string
	Port                 int
	InboxDir             string
	ProcessedDir         string
	ErrorDir             string
	PrenoteWaitingPeriod time.Duration
	MaxWeeklyBenefitFile string
	NATSURL              string
	WritebackSubject     string
	SchedulerEnabled     bool
	SchedulerInterval    time.Duration
	LogLevel             string
}

func New() (*Config, error) {
	cfg := &Config{
		DatabasePath:         getEnv("DATABASE_PATH", "payments.db"),
		Port:                 8080,
		InboxDir:             getEnv("INBOX_DIR", "data/inbox"),
		ProcessedDir:         getEnv("PROCESSED_DIR", "data/processed"),
		ErrorDir:             getEnv("ERROR_DIR", "data/error"),
		MaxWeeklyBenefitFile: os.Getenv("MAX_WEEKLY_BENEFIT_TABLE"),
		NATSURL:              os.Getenv("NATS_URL"),
		WritebackSubject:     getEnv("WRITEBACK_SUBJECT", "payments.writeback"),
		SchedulerEnabled:     true,
		SchedulerInterval:    time.Hour,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = getEnvAsInt("PORT", cfg.Port)
	if err != nil {
		return nil, err
	}

	waitingDays, err := getEnvAsInt("PRENOTE_WAITING_PERIOD_DAYS", 5)
	if err != nil {
		return nil, err
	}
	if waitingDays < 0 {
		return nil, fmt.Errorf("invalid value for PRENOTE_WAITING_PERIOD_DAYS: must not be negative, got %d", waitingDays)
	}
	cfg.PrenoteWaitingPeriod = time.Duration(waitingDays) * 24 * time.Hour

	cfg.SchedulerEnabled, err = getEnvAsBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled)
	if err != nil {
		return nil, err
	}

	cfg.SchedulerInterval, err = getEnvAsDuration("SCHEDULER_INTERVAL", cfg.SchedulerInterval)
	if err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("invalid value for SCHEDULER_INTERVAL: must be positive, got %s", cfg.SchedulerInterval)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: expected a boolean, got '%s'", key, valueStr)
	}

	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected a duration, got '%s'", key, valueStr)
	}

	return value, nil
}
