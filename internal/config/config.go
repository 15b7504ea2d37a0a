// Package config defines the Configuration record from spec.md §3/§6 and
// its validation, independent of whether it was populated from command-
// line flags (cmd/aentropyd, github.com/spf13/pflag) or a YAML file
// (gopkg.in/yaml.v3). Both surfaces populate the same struct and run the
// same Validate, so there is exactly one source of truth for what a
// valid configuration looks like.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration is the immutable record described in spec.md §3
// "Configuration". Field names and yaml tags mirror the CLI flag names
// enumerated in spec.md §6 with hyphens folded to underscores.
type Configuration struct {
	DevicePath string `yaml:"device_path"`
	SampleRate int     `yaml:"sample_rate"`

	DoNotFork       bool `yaml:"do_not_fork"`
	SkipHealthCheck bool `yaml:"skip_health_check"`

	OutputFile string `yaml:"output_file"`
	Verbose    int    `yaml:"verbose"`

	SpikeMode                   bool    `yaml:"spike_mode"`
	SpikeThresholdPercent       float64 `yaml:"spike_threshold_percent"`
	SpikeEdgeMinDeltaPercent    float64 `yaml:"spike_edge_min_delta_percent"`
	SpikeChannelMask            int     `yaml:"spike_channel_mask"`
	SpikeMinimumIntervalFrames  int     `yaml:"spike_minimum_interval_frames"`
	SpikeTestMode               bool    `yaml:"spike_test_mode"`
	SpikeLogPath                string  `yaml:"spike_log_path"`
	SpikeLogIntervalSeconds     float64 `yaml:"spike_log_interval_seconds"`

	PIDFile string `yaml:"pid_file"`
}

// Default returns the Configuration matching audio-entropyd.c's built-in
// defaults (DEFAULT_SAMPLE_RATE etc.) before any flag or file override is
// applied.
func Default() Configuration {
	return Configuration{
		DevicePath: "default",
		SampleRate: 44100,
		Verbose:    0,

		SpikeChannelMask:           3,
		SpikeMinimumIntervalFrames: 0,
		SpikeLogIntervalSeconds:    60,

		PIDFile: "/var/run/aentropyd.pid",
	}
}

// LoadFile reads and parses a YAML configuration file, starting from
// Default() so a partial file only overrides the fields it mentions.
func LoadFile(path string) (Configuration, error) {
	var cfg = Default()

	var data, err = os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// InvalidError reports a config-invalid condition (spec.md §7), wrapping
// the specific field and reason.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

/*-------------------------------------------------------------------
 *
 * Name:	Validate
 *
 * Purpose:	Enforce the bounds named in spec.md §3/§6 for every field
 *		that has one. Returns the first violation found as an
 *		*InvalidError; the caller aborts startup with a nonzero
 *		exit code per §7.
 *
 *--------------------------------------------------------------*/

func (c Configuration) Validate() error {
	if c.SampleRate <= 0 {
		return &InvalidError{"sample_rate", "must be positive"}
	}
	if c.SpikeThresholdPercent < -100 || c.SpikeThresholdPercent > 100 {
		return &InvalidError{"spike_threshold_percent", "must be in [-100, 100]"}
	}
	if c.SpikeEdgeMinDeltaPercent < 0 || c.SpikeEdgeMinDeltaPercent > 100 {
		return &InvalidError{"spike_edge_min_delta_percent", "must be in [0, 100]"}
	}
	switch c.SpikeChannelMask {
	case 1, 2, 3:
	default:
		return &InvalidError{"spike_channel_mask", "must be 1, 2, or 3"}
	}
	if c.SpikeMinimumIntervalFrames < 0 {
		return &InvalidError{"spike_minimum_interval_frames", "must be >= 0"}
	}
	if c.SpikeLogIntervalSeconds < 0 {
		return &InvalidError{"spike_log_interval_seconds", "must be >= 0"}
	}
	if c.PIDFile == "" {
		return &InvalidError{"pid_file", "must not be empty"}
	}
	return nil
}
