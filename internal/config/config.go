// Package config loads the run-time configurables spec.md §6 lists:
// alpha, per-server slots, the two damping thresholds, traffic
// distribution parameters, and logging/output settings. Grounded on
// jhkimqd-chaos-utils's pkg/config: a DefaultConfig() plus YAML
// unmarshal via gopkg.in/yaml.v3, with an os.ExpandEnv pass before
// parsing so operators can parameterize a scenario file from the
// environment the way that pack does for PROMETHEUS_URL.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide immutable configuration record spec.md §9
// calls for ("Global configurables. Modeled as a process-wide immutable
// configuration record created at startup; components receive it by
// construction.").
type Config struct {
	Utility   UtilityConfig   `yaml:"utility"`
	Server    ServerConfig    `yaml:"server"`
	Router    RouterConfig    `yaml:"router"`
	Traffic   TrafficConfig   `yaml:"traffic"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// UtilityConfig holds the forwarding utility weighting.
type UtilityConfig struct {
	// Alpha weights load vs delay in U = alpha*load + (1-alpha)*delay.
	Alpha float64 `yaml:"alpha"`
}

// ServerConfig holds the per-replica admission and announcement knobs.
type ServerConfig struct {
	Slots int `yaml:"slots"`
	// ChangeFactor is the minimum relative load/slots delta (spec.md
	// §4.3) that triggers a re-announcement.
	ChangeFactor float64 `yaml:"change_factor"`
}

// RouterConfig holds the router-side damping threshold.
type RouterConfig struct {
	// ForwardingUtilityChangeFactor is the minimum utility improvement
	// required to swap the service forwarding table entry (spec.md §4.6.3).
	ForwardingUtilityChangeFactor float64 `yaml:"forwarding_utility_change_factor"`
}

// TrafficConfig parameterizes the Poisson/exponential generators (C7).
type TrafficConfig struct {
	ArrivalLambda float64 `yaml:"arrival_lambda"`
	SizeLambda    float64 `yaml:"size_lambda"`
	SizeScale     float64 `yaml:"size_scale"`
	Seed          int64   `yaml:"seed"`
}

// LoggingConfig holds the logging settings of a config file. No code
// reads them: cmd/servicecast builds its logger from the --verbose flag,
// and TablePretty has no effect.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // "console" or "json"
	TablePretty bool   `yaml:"table_pretty"`
}

// MetricsConfig holds the metrics endpoint settings of a config file.
// No code reads them: the /metrics endpoint is served only when
// cmd/servicecast's --metrics-addr flag is set.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the documented defaults from spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Utility: UtilityConfig{
			Alpha: 0.5,
		},
		Server: ServerConfig{
			Slots:        10,
			ChangeFactor: 0.1,
		},
		Router: RouterConfig{
			ForwardingUtilityChangeFactor: 0.1,
		},
		Traffic: TrafficConfig{
			ArrivalLambda: 1.0,
			SizeLambda:    1.0,
			SizeScale:     1.0,
			Seed:          1,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			TablePretty: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads a YAML scenario config, applying it on top of
// DefaultConfig so a file only needs to mention the fields it
// overrides. A missing path is not an error: the defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would make the
// simulation meaningless rather than merely unusual (spec.md §7:
// "Configuration error ... fatal at setup; abort with a diagnostic").
func (c *Config) Validate() error {
	if c.Utility.Alpha < 0 || c.Utility.Alpha > 1 {
		return fmt.Errorf("config: utility.alpha must be in [0,1], got %v", c.Utility.Alpha)
	}
	if c.Server.Slots < 0 {
		return fmt.Errorf("config: server.slots must be >= 0, got %d", c.Server.Slots)
	}
	if c.Server.ChangeFactor < 0 {
		return fmt.Errorf("config: server.change_factor must be >= 0, got %v", c.Server.ChangeFactor)
	}
	if c.Router.ForwardingUtilityChangeFactor < 0 {
		return fmt.Errorf("config: router.forwarding_utility_change_factor must be >= 0, got %v", c.Router.ForwardingUtilityChangeFactor)
	}
	return nil
}
