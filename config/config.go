// Package config loads the controller's HCL configuration file, grounded
// on the sibling firewall repos' hclsimple.Decode pattern (spec.md §6,
// SPEC_FULL.md §4.12); the teacher library itself has no config file of
// its own since it is consumed via Go-level constructor options.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// StaticLink is one entry of an optional static_topology_map override
// block (spec.md §6, discovery fallback).
type StaticLink struct {
	SrcDPID uint64 `hcl:"src_dpid"`
	SrcPort uint32 `hcl:"src_port"`
	DstDPID uint64 `hcl:"dst_dpid"`
	DstPort uint32 `hcl:"dst_port"`
}

// StaticTopologyMap is the optional static_topology_map block.
type StaticTopologyMap struct {
	Links []StaticLink `hcl:"link,block"`
}

// Config is the full set of controller options (spec.md §6, expanded by
// SPEC_FULL.md §4.12).
type Config struct {
	ControllerListenAddress string `hcl:"controller_listen_address,optional"`
	ControllerListenPort    int    `hcl:"controller_listen_port,optional"`

	StatsPollIntervalSeconds  int `hcl:"stats_poll_interval_seconds,optional"`
	EnergyPollIntervalSeconds int `hcl:"energy_poll_interval_seconds,optional"`
	MACAgeSeconds             int `hcl:"mac_age_seconds,optional"`
	FlowIdleTimeoutSeconds    int `hcl:"flow_idle_timeout_seconds,optional"`
	DiscoveryGraceSeconds     int `hcl:"discovery_grace_seconds,optional"`
	DecayTimeConstantSeconds  int `hcl:"decay_time_constant_seconds,optional"`

	PowerActiveWatts float64 `hcl:"power_active_watts,optional"`
	PowerIdleWatts   float64 `hcl:"power_idle_watts,optional"`

	ClassificationCSVPath string `hcl:"classification_csv_path,optional"`
	EnergyCSVPath         string `hcl:"energy_csv_path,optional"`

	StaticTopologyMap *StaticTopologyMap `hcl:"static_topology_map,block"`

	WeightMode string `hcl:"weight_mode,optional"`

	MetricsListenAddress string `hcl:"metrics_listen_address,optional"`

	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
}

// Defaults returns a Config populated with every default value named in
// spec.md §6 / SPEC_FULL.md §4.12.
func Defaults() Config {
	return Config{
		ControllerListenAddress:   "0.0.0.0",
		ControllerListenPort:      6653,
		StatsPollIntervalSeconds:  10,
		EnergyPollIntervalSeconds: 1,
		MACAgeSeconds:             300,
		FlowIdleTimeoutSeconds:    30,
		DiscoveryGraceSeconds:     10,
		DecayTimeConstantSeconds:  90,
		PowerActiveWatts:          5.0,
		PowerIdleWatts:            2.0,
		EnergyCSVPath:             "energy_consumption.csv",
		WeightMode:                "raw_load",
		LogLevel:                  "info",
		LogFormat:                 "console",
	}
}

// Load reads and decodes an HCL config file at path, filling in defaults
// for any attribute the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the resolved config for values the controller cannot
// operate with.
func (c Config) Validate() error {
	if c.ControllerListenPort <= 0 || c.ControllerListenPort > 65535 {
		return fmt.Errorf("config: invalid controller_listen_port %d", c.ControllerListenPort)
	}
	switch c.WeightMode {
	case "raw_load", "utilization":
	default:
		return fmt.Errorf("config: invalid weight_mode %q (want raw_load or utilization)", c.WeightMode)
	}
	if c.StatsPollIntervalSeconds <= 0 {
		return fmt.Errorf("config: stats_poll_interval_seconds must be positive")
	}
	if c.EnergyPollIntervalSeconds <= 0 {
		return fmt.Errorf("config: energy_poll_interval_seconds must be positive")
	}
	return nil
}
