package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ScalingConfig is the contract with the external autoscaler: it scales
// replicas between MinReplicas and MaxReplicas aiming at
// TargetOngoingRequests per replica, using the polled in-flight count.
// MaxOngoingRequests is enforced by each replica (0 = unbounded).
type ScalingConfig struct {
	MinReplicas           int     `json:"min_replicas" yaml:"min_replicas" toml:"min_replicas"`
	InitialReplicas       int     `json:"initial_replicas" yaml:"initial_replicas" toml:"initial_replicas"`
	MaxReplicas           int     `json:"max_replicas" yaml:"max_replicas" toml:"max_replicas"`
	TargetOngoingRequests float64 `json:"target_ongoing_requests" yaml:"target_ongoing_requests" toml:"target_ongoing_requests"`
	UpscaleDelayS         float64 `json:"upscale_delay_s" yaml:"upscale_delay_s" toml:"upscale_delay_s"`
	DownscaleDelayS       float64 `json:"downscale_delay_s" yaml:"downscale_delay_s" toml:"downscale_delay_s"`
	MetricsIntervalS      float64 `json:"metrics_interval_s" yaml:"metrics_interval_s" toml:"metrics_interval_s"`
	LookBackPeriodS       float64 `json:"look_back_period_s" yaml:"look_back_period_s" toml:"look_back_period_s"`
	MaxOngoingRequests    int     `json:"max_ongoing_requests" yaml:"max_ongoing_requests" toml:"max_ongoing_requests"`
}

// DefaultScaling returns the scale-to-zero profile: up to five replicas,
// slow downscale, fifteen concurrent requests per replica.
func DefaultScaling() ScalingConfig {
	return ScalingConfig{
		MinReplicas:           0,
		InitialReplicas:       0,
		MaxReplicas:           5,
		TargetOngoingRequests: 2,
		UpscaleDelayS:         15,
		DownscaleDelayS:       120,
		MetricsIntervalS:      5,
		LookBackPeriodS:       10,
		MaxOngoingRequests:    15,
	}
}

// ApplyDefaults fills zero-valued durations, target and max replicas.
// Replica counts of zero are meaningful and left alone.
func (c *ScalingConfig) ApplyDefaults() {
	d := DefaultScaling()
	if c.MaxReplicas == 0 {
		c.MaxReplicas = max(d.MaxReplicas, c.MinReplicas, c.InitialReplicas)
	}
	if c.TargetOngoingRequests == 0 {
		c.TargetOngoingRequests = d.TargetOngoingRequests
	}
	if c.UpscaleDelayS == 0 {
		c.UpscaleDelayS = d.UpscaleDelayS
	}
	if c.DownscaleDelayS == 0 {
		c.DownscaleDelayS = d.DownscaleDelayS
	}
	if c.MetricsIntervalS == 0 {
		c.MetricsIntervalS = d.MetricsIntervalS
	}
	if c.LookBackPeriodS == 0 {
		c.LookBackPeriodS = d.LookBackPeriodS
	}
}

// Validate checks bounds: no negative values, max >= 1 and
// min <= initial <= max.
func (c ScalingConfig) Validate() error {
	var errs []error
	neg := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %v)", name, v))
		}
	}
	neg("min_replicas", float64(c.MinReplicas))
	neg("initial_replicas", float64(c.InitialReplicas))
	neg("max_replicas", float64(c.MaxReplicas))
	neg("target_ongoing_requests", c.TargetOngoingRequests)
	neg("upscale_delay_s", c.UpscaleDelayS)
	neg("downscale_delay_s", c.DownscaleDelayS)
	neg("metrics_interval_s", c.MetricsIntervalS)
	neg("look_back_period_s", c.LookBackPeriodS)
	neg("max_ongoing_requests", float64(c.MaxOngoingRequests))
	if c.MaxReplicas < 1 {
		errs = append(errs, fmt.Errorf("max_replicas must be at least 1 (got %d)", c.MaxReplicas))
	}
	if c.MinReplicas > c.MaxReplicas {
		errs = append(errs, fmt.Errorf("min_replicas (%d) exceeds max_replicas (%d)", c.MinReplicas, c.MaxReplicas))
	}
	if c.InitialReplicas < c.MinReplicas || c.InitialReplicas > c.MaxReplicas {
		errs = append(errs, fmt.Errorf("initial_replicas (%d) must be within [%d, %d]", c.InitialReplicas, c.MinReplicas, c.MaxReplicas))
	}
	return errors.Join(errs...)
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (c ScalingConfig) UpscaleDelay() time.Duration   { return seconds(c.UpscaleDelayS) }
func (c ScalingConfig) DownscaleDelay() time.Duration { return seconds(c.DownscaleDelayS) }
func (c ScalingConfig) MetricsInterval() time.Duration {
	return seconds(c.MetricsIntervalS)
}
