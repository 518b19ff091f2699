// Package config loads heatppm's and unidled's configuration: built-in
// defaults, an optional YAML overrides file, and the CLI flags that
// take final precedence over both, per SPEC_FULL.md §2.2.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// HeatConfig is heatppm's full configuration surface (spec.md §6).
type HeatConfig struct {
	SensorPath  string `yaml:"sensor_path"`
	Wait        int64  `yaml:"wait"`
	MaxTempC    int64  `yaml:"max_temp_c"`
	MinSkewPPB  int64  `yaml:"min_skew_ppb"`
	Relaxed     bool   `yaml:"relaxed"`
	MetricsAddr string `yaml:"metrics_addr"`
	NTPServer   string `yaml:"ntp_server"`
}

// DefaultHeatConfig returns heatppm's built-in flag defaults.
func DefaultHeatConfig() HeatConfig {
	return HeatConfig{
		Wait:       5,
		MaxTempC:   85,
		MinSkewPPB: 15,
	}
}

// IdleConfig is unidled's full configuration surface (spec.md §6).
type IdleConfig struct {
	Device      string `yaml:"device"`
	Core        int    `yaml:"core"`
	Priority    int    `yaml:"priority"`
	LatencyUS   int64  `yaml:"latency_us"`
	PofMS       int64  `yaml:"pof_ms"`
	PrfMS       int64  `yaml:"prf_ms"`
	PrhMS       int64  `yaml:"prh_ms"`
	PohMS       int64  `yaml:"poh_ms"`
	All         bool   `yaml:"all"`
	PIDFile     string `yaml:"pid_file"`
	Foreground  bool   `yaml:"foreground"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultIdleConfig returns unidled's built-in flag defaults.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		Core:      0,
		Priority:  1,
		LatencyUS: 50,
		PofMS:     1,
		PrfMS:     1,
		PrhMS:     0,
		PohMS:     0,
		PIDFile:   "/run/unidled.pid",
	}
}

// LoadYAMLOverlay reads path and unmarshals it onto cfg, overwriting
// only the fields present in the file — any field the document omits
// keeps whatever value cfg already held (its built-in default). cfg
// must be a pointer. A missing file is an error: -C names a specific
// path the operator expects to exist.
func LoadYAMLOverlay(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
