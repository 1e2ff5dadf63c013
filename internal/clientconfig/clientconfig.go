// Package clientconfig loads the conman client's optional YAML settings
// file (~/.conman.yaml): the default server address and the escape
// character used to leave an attached console.
package clientconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the client-side configuration.
type Config struct {
	// Server is the daemon's host:port.
	Server string `yaml:"server"`

	// Escape is the character that introduces client escapes ("&" by
	// default; "&." detaches).
	Escape string `yaml:"escape"`
}

// Load reads the config from path, or from the default locations when
// path is empty. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			for _, candidate := range []string{
				filepath.Join(home, ".conman.yaml"),
				filepath.Join(home, ".conman.yml"),
			} {
				if _, err := os.Stat(candidate); err == nil {
					path = candidate
					break
				}
			}
		}
		if path == "" {
			return applyDefaults(&Config{}), nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open client config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse client config %q: %w", path, err)
	}
	return applyDefaults(&cfg), nil
}

func applyDefaults(cfg *Config) *Config {
	if cfg.Server == "" {
		cfg.Server = "127.0.0.1:7890"
	}
	if cfg.Escape == "" {
		cfg.Escape = "&"
	}
	return cfg
}
