// Package config loads shareingest settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Local layout
	StagingRoot string
	LedgerDir   string
	TrashDir    string
	MountBase   string
	MountLedger string

	// Batch scheduling
	BatchSize    int
	Concurrency  int
	BatchTimeout time.Duration

	// Transfer tool
	SMBClientPath    string
	TransferTimeout  time.Duration
	TransferAttempts int

	// Process registry hygiene
	JobTTL        time.Duration
	SweepInterval time.Duration

	// Default credentials; flags take precedence
	SMBUser     string
	SMBPassword string
	SMBDomain   string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Prometheus listen address, empty disables the endpoint
	MetricsAddr string
}

// fileConfig mirrors Config for YAML decoding. Durations are strings so
// "90s" and "5m" work in the file.
type fileConfig struct {
	StagingRoot      string `yaml:"staging_root"`
	LedgerDir        string `yaml:"ledger_dir"`
	TrashDir         string `yaml:"trash_dir"`
	MountBase        string `yaml:"mount_base"`
	MountLedger      string `yaml:"mount_ledger"`
	BatchSize        int    `yaml:"batch_size"`
	Concurrency      int    `yaml:"concurrency"`
	BatchTimeout     string `yaml:"batch_timeout"`
	SMBClientPath    string `yaml:"smbclient_path"`
	TransferTimeout  string `yaml:"transfer_timeout"`
	TransferAttempts int    `yaml:"transfer_attempts"`
	JobTTL           string `yaml:"job_ttl"`
	SweepInterval    string `yaml:"sweep_interval"`
	SMBUser          string `yaml:"smb_user"`
	SMBDomain        string `yaml:"smb_domain"`
	LogFile          string `yaml:"log_file"`
	LogLevel         string `yaml:"log_level"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	root := filepath.Join(os.TempDir(), "shareingest")
	return Config{
		StagingRoot:      filepath.Join(root, "staging"),
		LedgerDir:        filepath.Join(root, "ledgers"),
		TrashDir:         filepath.Join(root, "trash"),
		MountBase:        filepath.Join(root, "mounts"),
		MountLedger:      filepath.Join(root, "mounts.yaml"),
		BatchSize:        5,
		Concurrency:      3,
		BatchTimeout:     5 * time.Minute,
		SMBClientPath:    "smbclient",
		TransferTimeout:  30 * time.Second,
		TransferAttempts: 3,
		JobTTL:           time.Hour,
		SweepInterval:    time.Minute,
		LogFile:          filepath.Join(root, "shareingest.log"),
		LogLevel:         slog.LevelInfo,
	}
}

// Load reads configuration from environment variables on top of the defaults.
func Load() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads a YAML file, then applies environment overrides.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.StagingRoot, fc.StagingRoot)
	setString(&cfg.LedgerDir, fc.LedgerDir)
	setString(&cfg.TrashDir, fc.TrashDir)
	setString(&cfg.MountBase, fc.MountBase)
	setString(&cfg.MountLedger, fc.MountLedger)
	setString(&cfg.SMBClientPath, fc.SMBClientPath)
	setString(&cfg.SMBUser, fc.SMBUser)
	setString(&cfg.SMBDomain, fc.SMBDomain)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	if fc.BatchSize != 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.Concurrency != 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.TransferAttempts != 0 {
		cfg.TransferAttempts = fc.TransferAttempts
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"batch_timeout", fc.BatchTimeout, &cfg.BatchTimeout},
		{"transfer_timeout", fc.TransferTimeout, &cfg.TransferTimeout},
		{"job_ttl", fc.JobTTL, &cfg.JobTTL},
		{"sweep_interval", fc.SweepInterval, &cfg.SweepInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.StagingRoot = getEnv("SHAREINGEST_STAGING_ROOT", cfg.StagingRoot)
	cfg.LedgerDir = getEnv("SHAREINGEST_LEDGER_DIR", cfg.LedgerDir)
	cfg.TrashDir = getEnv("SHAREINGEST_TRASH_DIR", cfg.TrashDir)
	cfg.MountBase = getEnv("SHAREINGEST_MOUNT_BASE", cfg.MountBase)
	cfg.MountLedger = getEnv("SHAREINGEST_MOUNT_LEDGER", cfg.MountLedger)

	cfg.BatchSize = getEnvInt("SHAREINGEST_BATCH_SIZE", cfg.BatchSize)
	cfg.Concurrency = getEnvInt("SHAREINGEST_CONCURRENCY", cfg.Concurrency)
	cfg.BatchTimeout = getEnvDuration("SHAREINGEST_BATCH_TIMEOUT", cfg.BatchTimeout)

	cfg.SMBClientPath = getEnv("SHAREINGEST_SMBCLIENT", cfg.SMBClientPath)
	cfg.TransferTimeout = getEnvDuration("SHAREINGEST_TRANSFER_TIMEOUT", cfg.TransferTimeout)
	cfg.TransferAttempts = getEnvInt("SHAREINGEST_TRANSFER_ATTEMPTS", cfg.TransferAttempts)

	cfg.JobTTL = getEnvDuration("SHAREINGEST_JOB_TTL", cfg.JobTTL)
	cfg.SweepInterval = getEnvDuration("SHAREINGEST_SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.SMBUser = getEnv("SMB_USER", cfg.SMBUser)
	cfg.SMBPassword = getEnv("SMB_PASSWORD", cfg.SMBPassword)
	cfg.SMBDomain = getEnv("SMB_DOMAIN", cfg.SMBDomain)

	cfg.LogFile = getEnv("SHAREINGEST_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("SHAREINGEST_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}
	cfg.MetricsAddr = getEnv("SHAREINGEST_METRICS_ADDR", cfg.MetricsAddr)
}

// Validate rejects settings the scheduler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.BatchTimeout <= 0 {
		errs = append(errs, errors.New("batch timeout must be positive"))
	}
	if c.TransferTimeout <= 0 {
		errs = append(errs, errors.New("transfer timeout must be positive"))
	}
	if c.TransferAttempts <= 0 {
		errs = append(errs, fmt.Errorf("transfer attempts must be positive, got %d", c.TransferAttempts))
	}
	if c.StagingRoot == "" || c.LedgerDir == "" {
		errs = append(errs, errors.New("staging root and ledger dir are required"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
