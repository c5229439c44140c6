// Package config loads taskctl configuration from the environment.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for taskctl.
type Config struct {
	// Base URL of the task-manager API. Required.
	APIURL string `env:"TASKCTL_API_URL"`

	// Path of the token refresh endpoint, relative to APIURL.
	RefreshPath string `env:"TASKCTL_REFRESH_PATH" envDefault:"/auth/refresh"`

	// Bound on a single refresh exchange against the token endpoint.
	RefreshTimeout time.Duration `env:"TASKCTL_REFRESH_TIMEOUT" envDefault:"10s"`

	// Bound on how long a request may wait for an in-flight refresh
	// before it is failed as unreachable.
	RefreshWaitMax time.Duration `env:"TASKCTL_REFRESH_WAIT_MAX" envDefault:"30s"`

	// Overall timeout for ordinary API requests.
	HTTPTimeout time.Duration `env:"TASKCTL_HTTP_TIMEOUT" envDefault:"30s"`

	// Location of the credential database. Defaults to ~/.taskctl/state.db.
	StatePath string `env:"TASKCTL_STATE_PATH"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has overly
// permissive permissions. On Unix systems, group or world readable files
// risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first attempts
// to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		path, err := defaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("TASKCTL_API_URL is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid TASKCTL_API_URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("TASKCTL_API_URL scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("TASKCTL_API_URL must include a host")
	}

	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("TASKCTL_REFRESH_TIMEOUT must be positive")
	}

	if c.RefreshWaitMax < c.RefreshTimeout {
		return fmt.Errorf("TASKCTL_REFRESH_WAIT_MAX must be at least TASKCTL_REFRESH_TIMEOUT")
	}

	return nil
}

// RefreshURL returns the absolute URL of the token refresh endpoint.
func (c *Config) RefreshURL() string {
	return c.APIURL + c.RefreshPath
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".taskctl", "state.db"), nil
}
