package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateOTC(); err != nil {
		return err
	}
	if err := c.validateDecoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateOTC() error {
	if c.OTC.Token == "" {
		return errors.New("otc.otc_token must be set")
	}
	for _, w := range []struct {
		key string
		val float64
	}{
		{"otc.bypass_weight", c.OTC.BypassWeight},
		{"otc.self_loop_weight", c.OTC.SelfLoopWeight},
		{"otc.regular_weight", c.OTC.RegularWeight},
	} {
		if math.IsNaN(w.val) || math.IsInf(w.val, 0) {
			return fmt.Errorf("%s must be finite, got %v", w.key, w.val)
		}
	}
	return nil
}

func (c *Config) validateDecoding() error {
	d := c.Decoding
	if math.IsNaN(d.BeamSize) || d.BeamSize <= 0 {
		return fmt.Errorf("decoding.beam_size must be positive, got %v", d.BeamSize)
	}
	if d.MinActiveStates < 1 {
		return fmt.Errorf("decoding.min_active_states must be at least 1, got %d", d.MinActiveStates)
	}
	if d.MaxActiveStates < d.MinActiveStates {
		return fmt.Errorf("decoding.max_active_states (%d) must not be below min_active_states (%d)", d.MaxActiveStates, d.MinActiveStates)
	}
	if d.SubsamplingFactor < 1 {
		return fmt.Errorf("decoding.subsampling_factor must be at least 1, got %d", d.SubsamplingFactor)
	}
	if d.AllowTruncate < 0 {
		return fmt.Errorf("decoding.allow_truncate must not be negative, got %d", d.AllowTruncate)
	}
	if d.NumWorkers < 1 {
		return fmt.Errorf("decoding.num_workers must be at least 1, got %d", d.NumWorkers)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
