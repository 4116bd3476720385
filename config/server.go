package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is loaded from an optional YAML file; missing file means
// defaults.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Log  struct {
		Level       string   `yaml:"level"`
		Encoding    string   `yaml:"encoding"`
		OutputPaths []string `yaml:"outputPaths"`
	} `yaml:"log"`
	CORS struct {
		AllowOrigins []string `yaml:"allowOrigins"`
	} `yaml:"cors"`
}

func defaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{Addr: ":8080"}
	cfg.Log.Level = "info"
	cfg.Log.Encoding = "json"
	cfg.Log.OutputPaths = []string{"stdout", "logs/app.log"}
	cfg.CORS.AllowOrigins = []string{"*"}
	return cfg
}

// LoadServerConfig reads a YAML server config. An empty path or a missing
// file yields defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := defaultServerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	return cfg, nil
}
