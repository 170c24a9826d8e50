package botctl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is used when neither the config file nor the environment
// names a control API.
const DefaultAPIURL = "http://localhost:8090"

// Config is the operator's saved connection, kept in
// $XDG_CONFIG_HOME/botctl/config.yaml.
type Config struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token,omitempty"`
}

// ConfigPath returns the default config file location.
func ConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "botctl", "config.yaml"), nil
}

// LoadConfig reads path, tolerating a missing file, then applies
// BOTCTL_API_URL and BOTCTL_TOKEN from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("BOTCTL_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("BOTCTL_TOKEN"); v != "" {
		cfg.Token = v
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	return cfg, nil
}

// Save writes the config readable by the owner only.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
