package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSaveTarget is the -save-config value selecting DefaultPath.
const DefaultSaveTarget = "default"

// DefaultPath returns the config file in the user's config directory.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "softbody.yaml")
}

// Save writes the config to DefaultPath.
func (c *Config) Save() error {
	return c.SaveTo(DefaultPath())
}

// SaveTo writes the config as YAML, creating parent directories. The file
// loads back through -config to the same settings.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// SaveRequested writes the effective config when -save-config was given and
// returns the path written, or "" when nothing was requested.
func (c *Config) SaveRequested() (string, error) {
	switch target := SaveConfigPath(); target {
	case "":
		return "", nil
	case DefaultSaveTarget:
		return DefaultPath(), c.Save()
	default:
		return target, c.SaveTo(target)
	}
}
