package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the proxy's on-disk configuration, matching the
// master-coordinator-facing keys SPEC_FULL.md §3.3 names.
type Config struct {
	InstanceID            string `yaml:"instance_id"`
	MasterCoordinatorHost string `yaml:"master_coordinator_host"`
	MasterCoordinatorPort int    `yaml:"master_coordinator_port"`
	ListenPort            int    `yaml:"listen_port"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Config{ListenPort: 8000, LogLevel: "info"}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.InstanceID == "" {
		return Config{}, fmt.Errorf("instance_id is required")
	}
	if cfg.MasterCoordinatorHost == "" {
		return Config{}, fmt.Errorf("master_coordinator_host is required")
	}
	if cfg.MasterCoordinatorPort == 0 {
		return Config{}, fmt.Errorf("master_coordinator_port is required")
	}
	return cfg, nil
}
