package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// hnswConfig mirrors index.HnswParams in the config file's nested shape.
type hnswConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

type indexConfig struct {
	HNSW hnswConfig `yaml:"hnsw"`
}

type raftConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BindAddr  string `yaml:"bind_addr"`
	DataDir   string `yaml:"data_dir"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// Config is the storage node's on-disk configuration, matching the key
// names spec.md §6 names plus this implementation's domain-stack
// additions (dim, metric, index tuning, raft).
type Config struct {
	NodeID   string `yaml:"node_id"`
	DBPath   string `yaml:"db_path"`
	WALPath  string `yaml:"wal_path"`
	IndexDir string `yaml:"index_path"`

	Dim    int    `yaml:"dim"`
	Metric string `yaml:"metric"`

	HTTPServerAddress string `yaml:"http_server_address"`
	HTTPServerPort    int    `yaml:"http_server_port"`

	HealthServerAddress string `yaml:"health_server_address"`
	HealthServerPort    int    `yaml:"health_server_port"`

	FlushOnWrite bool `yaml:"flush_on_write"`
	FreshStart   bool `yaml:"fresh_start"`

	Index indexConfig `yaml:"index"`
	Raft  raftConfig  `yaml:"raft"`

	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Config{
		HTTPServerAddress:   "0.0.0.0",
		HTTPServerPort:      8080,
		HealthServerAddress: "0.0.0.0",
		HealthServerPort:    9090,
		Dim:                 128,
		Metric:              "l2",
		LogLevel:            "info",
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.NodeID == "" {
		return Config{}, fmt.Errorf("node_id is required")
	}
	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("db_path is required")
	}
	if cfg.WALPath == "" {
		return Config{}, fmt.Errorf("wal_path is required")
	}
	if cfg.IndexDir == "" {
		return Config{}, fmt.Errorf("index_path is required")
	}
	return cfg, nil
}
