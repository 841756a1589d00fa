// Package config loads the engine configuration (dispatch.yaml) and plan
// files. Environment variables in config files are expanded before
// parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/ratelimit"
)

// DefaultPath is where the engine config is looked up when no flag is
// given.
const DefaultPath = "dispatch.yaml"

// RateRule is one bucket rule: capacity tokens per window.
type RateRule struct {
	Capacity int    `yaml:"capacity"`
	Window   string `yaml:"window"`
}

// RateConfig holds the default bucket rule plus per-operation overrides.
type RateConfig struct {
	Default    RateRule            `yaml:"default"`
	Operations map[string]RateRule `yaml:"operations,omitempty"`
}

// RetryConfig shapes the transient-failure backoff.
type RetryConfig struct {
	InitialInterval string  `yaml:"initial_interval"`
	Multiplier      float64 `yaml:"multiplier"`
	MaxInterval     string  `yaml:"max_interval"`
	MaxAttempts     int     `yaml:"max_attempts"`
}

// DriverConfig tunes process execution.
type DriverConfig struct {
	MaxOutputBytes int    `yaml:"max_output_bytes"`
	GracePeriod    string `yaml:"grace_period"`
	WatchTree      bool   `yaml:"watch_tree"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the engine configuration.
type Config struct {
	// Backend names the default strategy family for plans that omit one
	Backend string `yaml:"backend"`

	Rate   RateConfig   `yaml:"rate"`
	Retry  RetryConfig  `yaml:"retry"`
	Driver DriverConfig `yaml:"driver"`
	Log    LogConfig    `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: "claude",
		Rate: RateConfig{
			Default: RateRule{Capacity: 10, Window: "1m"},
		},
		Retry: RetryConfig{
			InitialInterval: "1s",
			Multiplier:      2.0,
			MaxInterval:     "30s",
			MaxAttempts:     4,
		},
		Driver: DriverConfig{
			MaxOutputBytes: 1 << 20,
			GracePeriod:    "5s",
			WatchTree:      true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dispatcherrors.NewFileNotFoundError(path)
		}
		return nil, dispatcherrors.Wrap(dispatcherrors.ErrCodeFileReadFailed, dispatcherrors.KindPermanent,
			fmt.Sprintf("cannot read config file %s", path), err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, dispatcherrors.Wrap(dispatcherrors.ErrCodeConfigUnmarshal, dispatcherrors.KindPermanent,
			fmt.Sprintf("cannot parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path; a missing file yields the
// defaults instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		var derr *dispatcherrors.DispatchError
		if dispatcherrors.AsDispatchError(err, &derr) && derr.Code == dispatcherrors.ErrCodeFileNotFound {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks all fields that carry parseable values.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return dispatcherrors.NewConfigInvalidError("backend must not be empty")
	}
	if _, err := c.DefaultRule(); err != nil {
		return err
	}
	if _, err := c.OperationRules(); err != nil {
		return err
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	if c.Driver.MaxOutputBytes <= 0 {
		return dispatcherrors.NewConfigInvalidError("driver.max_output_bytes must be positive")
	}
	if _, err := c.GracePeriod(); err != nil {
		return err
	}
	return nil
}

// DefaultRule converts the default rate rule.
func (c *Config) DefaultRule() (ratelimit.Rule, error) {
	return convertRule("rate.default", c.Rate.Default)
}

// OperationRules converts the per-operation rate rules.
func (c *Config) OperationRules() (map[string]ratelimit.Rule, error) {
	rules := make(map[string]ratelimit.Rule, len(c.Rate.Operations))
	for op, rr := range c.Rate.Operations {
		rule, err := convertRule("rate.operations."+op, rr)
		if err != nil {
			return nil, err
		}
		rules[op] = rule
	}
	return rules, nil
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() (ratelimit.RetryPolicy, error) {
	initial, err := parseDuration("retry.initial_interval", c.Retry.InitialInterval)
	if err != nil {
		return ratelimit.RetryPolicy{}, err
	}
	max, err := parseDuration("retry.max_interval", c.Retry.MaxInterval)
	if err != nil {
		return ratelimit.RetryPolicy{}, err
	}
	if c.Retry.Multiplier < 1 {
		return ratelimit.RetryPolicy{}, dispatcherrors.NewConfigInvalidError("retry.multiplier must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return ratelimit.RetryPolicy{}, dispatcherrors.NewConfigInvalidError("retry.max_attempts must be at least 1")
	}
	return ratelimit.RetryPolicy{
		InitialInterval: initial,
		Multiplier:      c.Retry.Multiplier,
		MaxInterval:     max,
		MaxAttempts:     c.Retry.MaxAttempts,
	}, nil
}

// GracePeriod parses the driver kill grace period.
func (c *Config) GracePeriod() (time.Duration, error) {
	return parseDuration("driver.grace_period", c.Driver.GracePeriod)
}

func convertRule(field string, rr RateRule) (ratelimit.Rule, error) {
	window, err := parseDuration(field+".window", rr.Window)
	if err != nil {
		return ratelimit.Rule{}, err
	}
	rule := ratelimit.Rule{Capacity: rr.Capacity, Window: window}
	if err := rule.Validate(); err != nil {
		return ratelimit.Rule{}, dispatcherrors.NewConfigInvalidError(fmt.Sprintf("%s: %v", field, err))
	}
	return rule, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, dispatcherrors.NewConfigInvalidError(field + " must not be empty")
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, dispatcherrors.NewConfigInvalidError(fmt.Sprintf("%s: bad duration %q", field, value))
	}
	if d <= 0 {
		return 0, dispatcherrors.NewConfigInvalidError(field + " must be positive")
	}
	return d, nil
}
