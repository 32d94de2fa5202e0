package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loaded bundles the materialized config with its provenance.
type Loaded struct {
	Config   Config
	Path     string
	Warnings []Warning
}

// Load reads configuration from explicitPath, or from the default location
// when empty. A missing default file yields defaults; a missing explicit
// file is an error. Secrets are resolved from the environment after an
// optional .env next to the config file is applied.
func Load(explicitPath string) (Loaded, error) {
	path := strings.TrimSpace(explicitPath)
	explicit := path != ""
	if !explicit {
		defaultPath, err := defaultConfigPath()
		if err != nil {
			return Loaded{}, err
		}
		path = defaultPath
	}

	cfg := Default()
	loaded := Loaded{Path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		loaded.Warnings = append(loaded.Warnings, Warning{Message: fmt.Sprintf("config %s not found; using defaults", path)})
	default:
		return Loaded{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvSecrets(&cfg, filepath.Dir(path))

	warnings, err := Validate(cfg)
	if err != nil {
		return Loaded{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	loaded.Config = cfg
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}

// applyEnvSecrets fills credentials that are unset in the file. A .env in
// the config directory is loaded first and never overrides the real env.
func applyEnvSecrets(cfg *Config, configDir string) {
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	if strings.TrimSpace(cfg.STT.OpenAI.APIKey) == "" {
		cfg.STT.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if strings.TrimSpace(cfg.STT.Whisperd.APIKey) == "" {
		cfg.STT.Whisperd.APIKey = strings.TrimSpace(os.Getenv("ECHOES_WHISPERD_API_KEY"))
	}
}

// defaultConfigPath selects XDG_CONFIG_HOME when available, otherwise
// ~/.config.
func defaultConfigPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "echoes", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for config: %w", err)
	}
	return filepath.Join(home, ".config", "echoes", "config.yaml"), nil
}
