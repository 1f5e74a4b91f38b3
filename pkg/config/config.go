package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// defaultBaseDirName under the home directory.
	defaultBaseDirName = ".siegeup"

	// configFile is the optional per-host tuning file inside the base dir.
	configFile = "agent.yaml"

	// DefaultAPIPort is the HTTPS control port.
	DefaultAPIPort = 8443
)

// Config is the agent's tunable configuration. Everything has a working
// default; agent.yaml is optional, and flags and environment take
// precedence over it.
type Config struct {
	LogLevel        string `yaml:"logLevel"`
	LogJSON         bool   `yaml:"logJSON"`
	WatchIntervalMs int    `yaml:"watchIntervalMs"`
	OrchestratorURL string `yaml:"orchestratorUrl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:        "info",
		WatchIntervalMs: 2000,
	}
}

// Load reads agent.yaml from baseDir on top of the defaults and applies the
// ORCHESTRATOR_URL environment override. A missing file is not an error.
func Load(baseDir string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(baseDir, configFile))
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read %s: %w", configFile, err)
	}

	if url := os.Getenv("ORCHESTRATOR_URL"); url != "" {
		cfg.OrchestratorURL = url
	}
	if cfg.WatchIntervalMs <= 0 {
		cfg.WatchIntervalMs = Default().WatchIntervalMs
	}

	return cfg, nil
}

// BaseDir resolves the agent's base directory: SETTINGS_DIR, or .siegeup
// under the home directory.
func BaseDir() (string, error) {
	if dir := os.Getenv("SETTINGS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultBaseDirName), nil
}

// BuildsDir resolves the build store root: BUILDS_DIR, or builds under the
// base directory.
func BuildsDir(baseDir string) string {
	if dir := os.Getenv("BUILDS_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(baseDir, "builds")
}

// LogsDir returns the log sink root under the base directory.
func LogsDir(baseDir string) string {
	return filepath.Join(baseDir, "logs")
}
