package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from an optional YAML
// file with environment variables taking precedence.
type Config struct {
	Server struct {
		Port        string `yaml:"port"`
		JoinBaseURL string `yaml:"join_base_url"`
	} `yaml:"server"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Generation struct {
		DecoyURL  string `yaml:"decoy_url"`
		RenderURL string `yaml:"render_url"`
	} `yaml:"generation"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.JoinBaseURL = "http://localhost:8080"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.Generation.DecoyURL = "http://localhost:9090"
	cfg.Generation.RenderURL = "http://localhost:9091"
	return &cfg
}

// loadConfig reads path if it exists and applies env overrides on top.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Run on defaults and env alone.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.JoinBaseURL = getEnv("JOIN_BASE_URL", cfg.Server.JoinBaseURL)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Generation.DecoyURL = getEnv("DECOY_SERVICE_URL", cfg.Generation.DecoyURL)
	cfg.Generation.RenderURL = getEnv("RENDER_SERVICE_URL", cfg.Generation.RenderURL)
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
