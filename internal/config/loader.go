package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"gatewayd/internal/gateway"
	"gatewayd/internal/orchestrator"
	"gatewayd/pkg/types"
)

// CORS configures the optional CORS middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters for the gateway.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile    string `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" toml:"log_pretty"`
	LogMaxSize int    `json:"log_max_size_mb" yaml:"log_max_size_mb" toml:"log_max_size_mb"`

	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	InitMode     string `json:"init_mode" yaml:"init_mode" toml:"init_mode"`

	InitTimeoutS    float64 `json:"init_timeout_s" yaml:"init_timeout_s" toml:"init_timeout_s"`
	RequestTimeoutS float64 `json:"request_timeout_s" yaml:"request_timeout_s" toml:"request_timeout_s"`
	ProbeTimeoutS   float64 `json:"probe_timeout_s" yaml:"probe_timeout_s" toml:"probe_timeout_s"`
	DrainTimeoutS   float64 `json:"drain_timeout_s" yaml:"drain_timeout_s" toml:"drain_timeout_s"`
	MaxBodyBytes    int64   `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORS    CORS                       `json:"cors" yaml:"cors" toml:"cors"`
	Scaling orchestrator.ScalingConfig `json:"scaling" yaml:"scaling" toml:"scaling"`
	Models  []types.ModelSpec          `json:"models" yaml:"models" toml:"models"`
}

// Defaults.
const (
	DefaultAddr          = ":8080"
	DefaultLogLevel      = "info"
	DefaultInitTimeoutS  = 600
	DefaultProbeTimeoutS = 5
	DefaultDrainTimeoutS = 30
	DefaultMaxBodyBytes  = 1 << 20
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields. An absent scaling section gets the
// full default profile.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.InitMode == "" {
		c.InitMode = string(gateway.InitLazy)
	}
	if c.InitTimeoutS == 0 {
		c.InitTimeoutS = DefaultInitTimeoutS
	}
	if c.ProbeTimeoutS == 0 {
		c.ProbeTimeoutS = DefaultProbeTimeoutS
	}
	if c.DrainTimeoutS == 0 {
		c.DrainTimeoutS = DefaultDrainTimeoutS
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.CORS.Enabled && len(c.CORS.Origins) == 0 {
		c.CORS.Origins = []string{"*"}
	}
	if c.Scaling == (orchestrator.ScalingConfig{}) {
		c.Scaling = orchestrator.DefaultScaling()
	} else {
		c.Scaling.ApplyDefaults()
	}
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if _, err := gateway.ParseInitMode(c.InitMode); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]float64{
		"init_timeout_s":    c.InitTimeoutS,
		"request_timeout_s": c.RequestTimeoutS,
		"probe_timeout_s":   c.ProbeTimeoutS,
		"drain_timeout_s":   c.DrainTimeoutS,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if len(c.Models) == 0 && c.ModelsDir == "" {
		errs = append(errs, errors.New("no models configured (set models or models_dir)"))
	}
	seen := map[string]bool{}
	for i, m := range c.Models {
		id := strings.TrimSpace(m.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("models[%d]: id is empty", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("models[%d]: duplicate model id %q", i, id))
		}
		seen[id] = true
		if strings.TrimSpace(m.Kind) == "" {
			errs = append(errs, fmt.Errorf("models[%d]: kind is empty", i))
		}
	}
	if c.DefaultModel != "" && len(c.Models) > 0 && c.ModelsDir == "" && !seen[c.DefaultModel] {
		errs = append(errs, fmt.Errorf("default_model %q is not a configured model", c.DefaultModel))
	}
	if err := c.Scaling.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scaling: %w", err))
	}
	return errors.Join(errs...)
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (c Config) InitTimeout() time.Duration    { return seconds(c.InitTimeoutS) }
func (c Config) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutS) }
func (c Config) ProbeTimeout() time.Duration   { return seconds(c.ProbeTimeoutS) }
func (c Config) DrainTimeout() time.Duration   { return seconds(c.DrainTimeoutS) }
