// Package config composes station identity and cluster bootstrap settings
// from flags, environment variables and an optional YAML file (§6.5, §10.3).
// Precedence, highest first: command-line flag, environment variable, YAML
// file, built-in default.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8001
	DefaultDataDir         = "./data"
	DefaultMasterHost      = "localhost"
	DefaultMasterPort      = 8001
	DefaultSchedulerPoll   = 10 // seconds
)

// Config is the fully resolved process configuration.
type Config struct {
	StationID       string `yaml:"station_id"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	DataDir         string `yaml:"data_dir"`
	MasterHost      string `yaml:"master_host"`
	MasterPort      int    `yaml:"master_port"`
	LogLevel        string `yaml:"log_level"`
	LogJSON         bool   `yaml:"log_json"`
	SchedulerPollS  int    `yaml:"scheduler_poll_seconds"`
	ClusterSeedFile string `yaml:"cluster_seed_file"`
}

// fileConfig mirrors Config for YAML unmarshaling so a partially-specified
// file never clobbers defaults with zero values.
type fileConfig struct {
	StationID       *string `yaml:"station_id"`
	Host            *string `yaml:"host"`
	Port            *int    `yaml:"port"`
	DataDir         *string `yaml:"data_dir"`
	MasterHost      *string `yaml:"master_host"`
	MasterPort      *int    `yaml:"master_port"`
	LogLevel        *string `yaml:"log_level"`
	LogJSON         *bool   `yaml:"log_json"`
	SchedulerPollS  *int    `yaml:"scheduler_poll_seconds"`
	ClusterSeedFile *string `yaml:"cluster_seed_file"`
}

// Default returns the built-in defaults before environment/file/flag
// layering is applied.
func Default() Config {
	return Config{
		StationID:      "station1",
		Host:            "0.0.0.0",
		Port:            DefaultPort,
		DataDir:         DefaultDataDir,
		MasterHost:      DefaultMasterHost,
		MasterPort:      DefaultMasterPort,
		LogLevel:        "info",
		LogJSON:         false,
		SchedulerPollS:  DefaultSchedulerPoll,
	}
}

// LoadFile merges a YAML config file's fields onto cfg. A missing file is
// not an error — the file is optional per §10.3.
func LoadFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if fc.StationID != nil {
		cfg.StationID = *fc.StationID
	}
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.DataDir != nil {
		cfg.DataDir = *fc.DataDir
	}
	if fc.MasterHost != nil {
		cfg.MasterHost = *fc.MasterHost
	}
	if fc.MasterPort != nil {
		cfg.MasterPort = *fc.MasterPort
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.LogJSON != nil {
		cfg.LogJSON = *fc.LogJSON
	}
	if fc.SchedulerPollS != nil {
		cfg.SchedulerPollS = *fc.SchedulerPollS
	}
	if fc.ClusterSeedFile != nil {
		cfg.ClusterSeedFile = *fc.ClusterSeedFile
	}
	return cfg, nil
}

// LoadEnv merges STATION_ID, STATION_HOST, STATION_PORT, MASTER_HOST,
// MASTER_PORT, STATION_DATA_DIR, STATION_LOG_LEVEL and
// STATION_CLUSTER_SEED_FILE onto cfg (§6.5).
func LoadEnv(cfg Config) Config {
	if v := os.Getenv("STATION_ID"); v != "" {
		cfg.StationID = v
	}
	if v := os.Getenv("STATION_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("STATION_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("MASTER_HOST"); v != "" {
		cfg.MasterHost = v
	}
	if v := os.Getenv("MASTER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MasterPort = p
		}
	}
	if v := os.Getenv("STATION_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STATION_CLUSTER_SEED_FILE"); v != "" {
		cfg.ClusterSeedFile = v
	}
	return cfg
}
