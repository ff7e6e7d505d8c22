// Package config loads actionc settings from actionc.yaml with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/roach88/actionc/internal/placement"
)

// DefaultPath is read when no config file is named.
const DefaultPath = "actionc.yaml"

// Config holds all configuration for actionc.
// Environment variables always override YAML values.
// The database URL only comes from the environment.
type Config struct {
	// Declarations is the directory or file of CUE/YAML entity declarations.
	Declarations string `yaml:"declarations" env:"ACTIONC_DECLARATIONS" env-default:"actions"`

	// OutputDir receives generated SQL files.
	OutputDir string `yaml:"output_dir" env:"ACTIONC_OUTPUT_DIR" env-default:"db/generated"`

	// Placement selects the path allocator: hierarchical or flat.
	Placement string `yaml:"placement" env:"ACTIONC_PLACEMENT" env-default:"hierarchical"`

	// Manifest is the SQLite manifest path. Empty disables incremental writes.
	Manifest string `yaml:"manifest" env:"ACTIONC_MANIFEST" env-default:".actionc/manifest.db"`

	// CyclePolicy is warn or reject.
	CyclePolicy string `yaml:"cycle_policy" env:"ACTIONC_CYCLE_POLICY" env-default:"warn"`

	// Scaffold adds table DDL and identity helpers to the output.
	Scaffold bool `yaml:"scaffold" env:"ACTIONC_SCAFFOLD" env-default:"false"`

	// Parallelism bounds concurrent entity compilation; 0 means GOMAXPROCS.
	Parallelism int `yaml:"parallelism" env:"ACTIONC_PARALLELISM" env-default:"0"`

	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Invoke   InvokeConfig   `yaml:"invoke"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" env:"ACTIONC_LOG_LEVEL" env-default:"warn"`
	Development bool   `yaml:"development" env:"ACTIONC_LOG_DEVELOPMENT" env-default:"false"`
}

// DatabaseConfig configures the PostgreSQL connection used by apply,
// invoke and test.
type DatabaseConfig struct {
	URL      string `yaml:"-" env:"DATABASE_URL"` // Secret - not in YAML
	MaxConns int32  `yaml:"max_conns" env:"ACTIONC_DB_MAX_CONNS" env-default:"4"`
}

// InvokeConfig supplies the caller identity when invoke is not given one.
// Empty values are replaced by fresh random UUIDs.
type InvokeConfig struct {
	TenantID string `yaml:"tenant_id" env:"ACTIONC_TENANT_ID"`
	UserID   string `yaml:"user_id" env:"ACTIONC_USER_ID"`
}

// Load reads path with environment overrides. An empty path reads
// DefaultPath when it exists; a missing default falls back to the
// environment alone. A named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(statErr, fs.ErrNotExist) && !explicit:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, statErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	switch c.CyclePolicy {
	case "warn", "reject":
	default:
		return fmt.Errorf("cycle_policy must be warn or reject, got %q", c.CyclePolicy)
	}
	if _, err := placement.New(c.Placement, c.OutputDir); err != nil {
		return err
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns)
	}
	return nil
}

// Usage describes the environment variables Config understands.
func Usage() (string, error) {
	header := "Environment variables (override actionc.yaml):"
	return cleanenv.GetDescription(&Config{}, &header)
}
