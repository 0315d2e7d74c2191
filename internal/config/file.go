package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civalops/farmcoord/internal/coordinator"
)

// File is the on-disk config at <home>/config.yaml. All fields are optional;
// zero values fall back to the coordinator defaults.
type File struct {
	// Coordination tuning.
	DueSoonHorizon   string  `yaml:"due_soon_horizon"`  // e.g. "24h"
	OverloadFactor   float64 `yaml:"overload_factor"`   // e.g. 1.2
	UnderloadFactor  float64 `yaml:"underload_factor"`  // e.g. 0.8
	MaxMoves         int     `yaml:"max_moves"`
	RebalanceRetries int     `yaml:"rebalance_retries"`
	StoreRetries     int     `yaml:"store_retries"`
	OpTimeout        string  `yaml:"op_timeout"` // e.g. "10s"

	// Server settings.
	Addr     string `yaml:"addr"`
	APIKey   string `yaml:"api_key"`
	DBDriver string `yaml:"db_driver"` // sqlite (default) or postgres
	DBURL    string `yaml:"db_url"`

	// Background maintenance.
	MaintenanceInterval string `yaml:"maintenance_interval"` // e.g. "5m"; empty disables
	AutoRebalance       bool   `yaml:"auto_rebalance"`
}

// Load reads <home>/config.yaml. A missing file returns a zero File and no
// error; a malformed file is an error.
func Load(home string) (File, error) {
	var f File
	b, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse config.yaml: %w", err)
	}
	return f, nil
}

// Coordination converts the file settings into a coordinator config,
// leaving unset fields at zero so the coordinator applies its defaults.
func (f File) Coordination() (coordinator.Config, error) {
	cfg := coordinator.Config{
		RebalanceRetries: f.RebalanceRetries,
		StoreRetries:     f.StoreRetries,
	}
	cfg.Balancer.OverloadFactor = f.OverloadFactor
	cfg.Balancer.UnderloadFactor = f.UnderloadFactor
	cfg.Balancer.MaxMoves = f.MaxMoves
	if f.DueSoonHorizon != "" {
		d, err := time.ParseDuration(f.DueSoonHorizon)
		if err != nil {
			return cfg, fmt.Errorf("due_soon_horizon: %w", err)
		}
		cfg.DueSoonHorizon = d
	}
	if f.OpTimeout != "" {
		d, err := time.ParseDuration(f.OpTimeout)
		if err != nil {
			return cfg, fmt.Errorf("op_timeout: %w", err)
		}
		cfg.OpTimeout = d
	}
	return cfg, nil
}

// MaintenanceEvery parses the maintenance interval; zero means disabled.
func (f File) MaintenanceEvery() (time.Duration, error) {
	if f.MaintenanceInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.MaintenanceInterval)
	if err != nil {
		return 0, fmt.Errorf("maintenance_interval: %w", err)
	}
	return d, nil
}
