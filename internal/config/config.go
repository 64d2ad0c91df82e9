// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Store    StoreConfig    `toml:"store"`
	Delivery DeliveryConfig `toml:"delivery"`
	Summary  SummaryConfig  `toml:"summary"`
}

// GatewayConfig holds chat-completion backend settings.
type GatewayConfig struct {
	Endpoint    string   `toml:"endpoint"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	Timeout     Duration `toml:"timeout"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// StoreConfig selects and locates the durable backend.
type StoreConfig struct {
	Backend      string `toml:"backend"` // sqlite or redis
	Path         string `toml:"path"`
	RedisURL     string `toml:"redis_url"`
	LegacyImport string `toml:"legacy_import"`
}

// DeliveryConfig holds the staggered delivery offsets.
type DeliveryConfig struct {
	SegmentDelay  Duration `toml:"segment_delay"`
	TransferDelay Duration `toml:"transfer_delay"`
}

// SummaryConfig holds daily summary scheduler settings.
type SummaryConfig struct {
	SweepInterval Duration `toml:"sweep_interval"`
}

// Duration wraps time.Duration so it can be written as "800ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			Timeout:     Duration{55 * time.Second},
			RateLimit:   2.0,
			RateBurst:   3,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Delivery: DeliveryConfig{
			SegmentDelay:  Duration{800 * time.Millisecond},
			TransferDelay: Duration{500 * time.Millisecond},
		},
		Summary: SummaryConfig{
			SweepInterval: Duration{time.Minute},
		},
	}
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Load from file if it exists
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)
	clamp(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTLINE_ENDPOINT"); v != "" {
		cfg.Gateway.Endpoint = v
	}

	if v := os.Getenv("HEARTLINE_MODEL"); v != "" {
		cfg.Gateway.Model = v
	}

	if v := os.Getenv("HEARTLINE_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gateway.Temperature = f
		}
	}

	if v := os.Getenv("HEARTLINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.Timeout = Duration{d}
		}
	}

	if v := os.Getenv("HEARTLINE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gateway.RateLimit = f
		}
	}

	if v := os.Getenv("HEARTLINE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.RateBurst = n
		}
	}

	if v := os.Getenv("HEARTLINE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}

	if v := os.Getenv("HEARTLINE_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}

	if v := os.Getenv("HEARTLINE_LEGACY_IMPORT"); v != "" {
		cfg.Store.LegacyImport = v
	}
}

// clamp keeps values inside the ranges the backend contract accepts.
func clamp(cfg *Config) {
	if cfg.Gateway.Temperature < 0 {
		cfg.Gateway.Temperature = 0
	}
	if cfg.Gateway.Temperature > 2 {
		cfg.Gateway.Temperature = 2
	}
	if cfg.Gateway.Timeout.Duration <= 0 {
		cfg.Gateway.Timeout = Duration{55 * time.Second}
	}
	if cfg.Summary.SweepInterval.Duration <= 0 {
		cfg.Summary.SweepInterval = Duration{time.Minute}
	}
}

// DataDir returns the path to the heartline data directory (~/.heartline).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".heartline"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
