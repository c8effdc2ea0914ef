// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/atlashq/atlas-cli/internal/hostutil"
	"github.com/atlashq/atlas-cli/internal/output"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	APIBaseURL      string `json:"api_base_url"`
	PaymentsBaseURL string `json:"payments_base_url"`

	// Output settings
	Format string `json:"format"`

	// Verbosity (0 = warnings, 1 = info, 2 = debug)
	Verbose int `json:"verbose"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	APIBaseURL      string
	PaymentsBaseURL string
	Format          string
	Verbose         int
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		APIBaseURL:      "https://api.atlasdirectory.app",
		PaymentsBaseURL: "https://payments.atlasdirectory.app",
		Format:          "json",
		Sources:         make(map[string]string),
	}
}

// GlobalConfigDir returns the directory holding the global config file and
// the fallback token file.
func GlobalConfigDir() string {
	if dir := os.Getenv("ATLAS_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "atlas")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "atlas")
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global file > defaults. A .env file in the
// working directory is folded into the environment first.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, globalConfigPath(), SourceGlobal)

	// Missing .env is the normal case.
	_ = godotenv.Load()
	loadFromEnv(cfg)

	applyOverrides(cfg, overrides)

	cfg.APIBaseURL = hostutil.Normalize(cfg.APIBaseURL)
	cfg.PaymentsBaseURL = hostutil.Normalize(cfg.PaymentsBaseURL)
	for _, u := range []string{cfg.APIBaseURL, cfg.PaymentsBaseURL} {
		if err := hostutil.RequireSecureURL(u); err != nil {
			return nil, output.ErrUsage(err.Error())
		}
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	if v, ok := fileCfg["api_base_url"].(string); ok && v != "" {
		cfg.APIBaseURL = v
		cfg.Sources["api_base_url"] = string(source)
	}
	if v, ok := fileCfg["payments_base_url"].(string); ok && v != "" {
		cfg.PaymentsBaseURL = v
		cfg.Sources["payments_base_url"] = string(source)
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}
	if v, ok := fileCfg["verbose"].(float64); ok {
		iv := int(v)
		if iv >= 0 && iv <= 2 && v == float64(iv) {
			cfg.Verbose = iv
			cfg.Sources["verbose"] = string(source)
		}
	}
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("ATLAS_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
		cfg.Sources["api_base_url"] = string(SourceEnv)
	}
	if v := os.Getenv("ATLAS_PAYMENTS_BASE_URL"); v != "" {
		cfg.PaymentsBaseURL = v
		cfg.Sources["payments_base_url"] = string(SourceEnv)
	}
	if v := os.Getenv("ATLAS_FORMAT"); v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(SourceEnv)
	}
}

func applyOverrides(cfg *Config, overrides FlagOverrides) {
	if overrides.APIBaseURL != "" {
		cfg.APIBaseURL = overrides.APIBaseURL
		cfg.Sources["api_base_url"] = string(SourceFlag)
	}
	if overrides.PaymentsBaseURL != "" {
		cfg.PaymentsBaseURL = overrides.PaymentsBaseURL
		cfg.Sources["payments_base_url"] = string(SourceFlag)
	}
	if overrides.Format != "" {
		cfg.Format = overrides.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if overrides.Verbose > 0 {
		cfg.Verbose = overrides.Verbose
		cfg.Sources["verbose"] = string(SourceFlag)
	}
}

// SaveGlobal writes the persistable settings to the global config file.
func SaveGlobal(cfg *Config) error {
	dir := GlobalConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(globalConfigPath(), append(data, '\n'), 0600)
}
