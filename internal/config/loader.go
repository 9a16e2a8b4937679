package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures file and environment driven configuration for the wallet store.
type Config struct {
	// AppName names the per-user data directory the host resolves.
	AppName string `yaml:"app_name"`
	// DatabaseFile is the store's file name inside the resolved directory.
	DatabaseFile string `yaml:"database_file"`
	// DataDir bypasses the host process when set.
	DataDir string `yaml:"data_dir"`
	// HostCommand is the helper executable (and arguments) that prints the
	// data directory. Empty means the platform user config directory.
	HostCommand []string `yaml:"host_command"`
	// HostTimeout bounds one path resolution round trip.
	HostTimeout time.Duration `yaml:"host_timeout"`

	BusyTimeout time.Duration `yaml:"busy_timeout"`
	JournalMode string        `yaml:"journal_mode"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AppName:      "wallet-store",
		DatabaseFile: "wallet.db",
		HostTimeout:  10 * time.Second,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// WALLETDB_CONFIG (if any), then individual WALLETDB_* variables.
func Load() (Config, error) {
	return LoadFile(os.Getenv("WALLETDB_CONFIG"))
}

// LoadFile is Load with an explicit YAML file. An empty path means none.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	invalid := make([]string, 0, 2)

	if v := strings.TrimSpace(os.Getenv("WALLETDB_APP_NAME")); v != "" {
		cfg.AppName = v
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_DATABASE_FILE")); v != "" {
		cfg.DatabaseFile = v
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_HOST_COMMAND")); v != "" {
		argv, err := parseCommand(v)
		if err != nil {
			invalid = append(invalid, "WALLETDB_HOST_COMMAND")
		} else {
			cfg.HostCommand = argv
		}
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_HOST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			invalid = append(invalid, "WALLETDB_HOST_TIMEOUT")
		} else {
			cfg.HostTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_BUSY_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			invalid = append(invalid, "WALLETDB_BUSY_TIMEOUT")
		} else {
			cfg.BusyTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_JOURNAL_MODE")); v != "" {
		cfg.JournalMode = strings.ToUpper(v)
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("WALLETDB_LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(invalid, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent values.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.AppName) == "" {
		problems = append(problems, "app_name is required")
	}
	if strings.TrimSpace(c.DatabaseFile) == "" {
		problems = append(problems, "database_file is required")
	} else if filepath.Base(c.DatabaseFile) != c.DatabaseFile {
		problems = append(problems, "database_file must be a bare file name")
	}
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) {
		problems = append(problems, "data_dir must be absolute")
	}
	if c.HostTimeout <= 0 {
		problems = append(problems, "host_timeout must be positive")
	}
	if c.BusyTimeout < 0 {
		problems = append(problems, "busy_timeout cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// parseCommand splits a host command from the environment. A value starting
// with '[' is a YAML flow list, which is the only way to keep spaces inside
// one argument; anything else is split on whitespace.
func parseCommand(v string) ([]string, error) {
	if !strings.HasPrefix(v, "[") {
		return strings.Fields(v), nil
	}
	var argv []string
	if err := yaml.Unmarshal([]byte(v), &argv); err != nil {
		return nil, err
	}
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("host command list is empty")
	}
	return argv, nil
}
