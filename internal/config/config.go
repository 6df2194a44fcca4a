// Package config defines the simulator's configuration and its loading
// from a TOML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by RINGSIM_* environment variables.
type Config struct {
	NATS     NATSConfig `toml:"nats"`
	HTTP     HTTPConfig `toml:"http"`
	Sim      SimConfig  `toml:"sim"`
	LogLevel string     `toml:"log_level"`
}

// NATSConfig holds the pre-flight service transport parameters.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// HTTPConfig holds the metrics/health listener address.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// SimConfig holds settlement parameters.
type SimConfig struct {
	// FeeHolder is the address fee transfers are routed to.
	FeeHolder string `toml:"fee_holder"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "ringsim.simulate.v1",
		},
		HTTP: HTTPConfig{
			Addr: ":9091",
		},
		Sim: SimConfig{
			FeeHolder: "0x00000000000000000000000000000000000f0e1d",
		},
		LogLevel: "info",
	}
}

// Load reads the TOML file at path (when non-empty), merges it on top of
// the defaults, applies RINGSIM_* environment overrides, and returns the
// final Config. Call Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.NATS.URL, "RINGSIM_NATS_URL")
	setStr(&cfg.NATS.Subject, "RINGSIM_NATS_SUBJECT")
	setStr(&cfg.HTTP.Addr, "RINGSIM_HTTP_ADDR")
	setStr(&cfg.Sim.FeeHolder, "RINGSIM_FEE_HOLDER")
	setStr(&cfg.LogLevel, "RINGSIM_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject must not be empty")
	}
	if !common.IsHexAddress(c.Sim.FeeHolder) {
		return fmt.Errorf("sim.fee_holder %q is not a hex address", c.Sim.FeeHolder)
	}
	return nil
}

// FeeHolderAddress returns the parsed fee holder address.
func (c *Config) FeeHolderAddress() common.Address {
	return common.HexToAddress(c.Sim.FeeHolder)
}
