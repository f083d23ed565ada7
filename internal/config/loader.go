package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// ProjectConfigPath is the project-level config location relative to the root package.
const ProjectConfigPath = ".pkgbuild/config.yaml"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed YAML returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Build.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build config: %w", err)
	}

	return cfg, nil
}

// GlobalPath returns the per-user config file location under XDG_CONFIG_HOME.
func GlobalPath() string {
	return filepath.Join(xdg.ConfigHome, "pkgbuild", "config.yaml")
}

// LoadDefault loads configuration from conventional paths for the project rooted at root.
// Global: $XDG_CONFIG_HOME/pkgbuild/config.yaml
// Project: <root>/.pkgbuild/config.yaml
func LoadDefault(root string) (*Config, error) {
	return Load(GlobalPath(), filepath.Join(root, ProjectConfigPath))
}

// mergeConfigFile decodes a YAML file on top of base.
// Keys absent from the file keep the value already in base.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
