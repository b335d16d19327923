// Package config holds user-configurable settings for the monitoring
// service. Defaults are overridden by environment variables first and
// command-line flags second.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full service configuration.
type Config struct {
	// Inventory database.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Probe cycle.
	PingIntervalSec     int
	PingTimeoutSec      int
	MaxPingWorkers      int
	DeviceCheckInterval int // seconds between inventory signature checks

	// On-disk output.
	OutputDir string

	// Alerting and escalation.
	AlertThreshold           int
	IncidentThresholdMinutes int
	IncidentBucket           string

	// Notification transport.
	WatzapBaseURL   string
	WatzapAPIKey    string
	WatzapNumberKey string
	WatzapGroupID   string

	// HTTP API.
	ListenAddr string

	// Shift reports.
	EnableShiftReport bool
	ShiftReportGroup  string
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		DBHost:                   "127.0.0.1",
		DBPort:                   3306,
		DBName:                   "kaido_kit",
		DBUser:                   "root",
		PingIntervalSec:          5,
		PingTimeoutSec:           3,
		MaxPingWorkers:           20,
		DeviceCheckInterval:      30,
		OutputDir:                "ping_results",
		AlertThreshold:           20,
		IncidentThresholdMinutes: 60,
		IncidentBucket:           "subreg_jawa",
		WatzapBaseURL:            "https://api.watzap.id/v1",
		ListenAddr:               ":5000",
	}
}

// FromEnv returns the defaults overridden by environment variables.
// Variable names follow the deployment's .env contract.
func FromEnv() Config {
	cfg := Default()
	envStr(&cfg.DBHost, "DB_HOST")
	envInt(&cfg.DBPort, "DB_PORT")
	envStr(&cfg.DBName, "DB_DATABASE")
	envStr(&cfg.DBUser, "DB_USERNAME")
	envStr(&cfg.DBPassword, "DB_PASSWORD")
	envInt(&cfg.PingIntervalSec, "PING_INTERVAL")
	envInt(&cfg.PingTimeoutSec, "PING_TIMEOUT")
	envInt(&cfg.MaxPingWorkers, "MAX_PING_WORKERS")
	envInt(&cfg.DeviceCheckInterval, "DEVICE_CHECK_INTERVAL")
	envStr(&cfg.OutputDir, "CSV_OUTPUT_DIR")
	envInt(&cfg.AlertThreshold, "ALERT_THRESHOLD")
	envInt(&cfg.IncidentThresholdMinutes, "INCIDENT_THRESHOLD_MINUTES")
	envStr(&cfg.IncidentBucket, "INCIDENT_BUCKET")
	envStr(&cfg.WatzapBaseURL, "WATZAP_BASE_URL")
	envStr(&cfg.WatzapAPIKey, "WATZAP_API_KEY")
	envStr(&cfg.WatzapNumberKey, "WATZAP_NUMBER_KEY")
	envStr(&cfg.WatzapGroupID, "WATZAP_GROUP_ID")
	envStr(&cfg.ListenAddr, "LISTEN_ADDR")
	envBool(&cfg.EnableShiftReport, "ENABLE_SHIFT_REPORT")
	envStr(&cfg.ShiftReportGroup, "SHIFT_REPORT_GROUP")
	return cfg
}

// Validate refuses configurations the service cannot run with.
func (c Config) Validate() error {
	if c.PingIntervalSec <= 0 {
		return fmt.Errorf("ping interval must be positive, got %d", c.PingIntervalSec)
	}
	if c.PingTimeoutSec <= 0 {
		return fmt.Errorf("ping timeout must be positive, got %d", c.PingTimeoutSec)
	}
	if c.MaxPingWorkers <= 0 {
		return fmt.Errorf("max ping workers must be positive, got %d", c.MaxPingWorkers)
	}
	if c.DeviceCheckInterval <= 0 {
		return fmt.Errorf("device check interval must be positive, got %d", c.DeviceCheckInterval)
	}
	if c.AlertThreshold <= 0 {
		return fmt.Errorf("alert threshold must be positive, got %d", c.AlertThreshold)
	}
	if c.IncidentThresholdMinutes <= 0 {
		return fmt.Errorf("incident threshold must be positive, got %d", c.IncidentThresholdMinutes)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory must be set")
	}
	return nil
}

// DSN assembles the MySQL data source name for the inventory database.
// parseTime is required so DATETIME columns scan into time.Time.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// PingInterval returns the cycle period as a duration.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec) * time.Second
}

// PingTimeout returns the per-probe deadline as a duration.
func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSec) * time.Second
}

// DeviceCheckPeriod returns the inventory check cadence as a duration.
func (c Config) DeviceCheckPeriod() time.Duration {
	return time.Duration(c.DeviceCheckInterval) * time.Second
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
