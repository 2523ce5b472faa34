package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, applies defaults for omitted fields, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name must not be empty")
	}
	switch strings.ToUpper(c.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("service.log_level %q is not one of DEBUG, INFO, WARN, ERROR", c.Service.LogLevel)
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must not be empty")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("queue.retry_delay must not be negative, got %s", c.Queue.RetryDelay)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive, got %s", c.Queue.PollInterval)
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive, got %d", c.Pool.MaxSize)
	}
	if c.Helper.Binary == "" {
		return fmt.Errorf("helper.binary must not be empty")
	}
	if c.Helper.Timeout <= 0 {
		return fmt.Errorf("helper.timeout must be positive, got %s", c.Helper.Timeout)
	}
	if c.Helper.TerminationGrace <= 0 {
		return fmt.Errorf("helper.termination_grace must be positive, got %s", c.Helper.TerminationGrace)
	}
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine.binary must not be empty")
	}
	if c.Engine.Repository == "" {
		return fmt.Errorf("engine.repository must not be empty")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen must not be empty when api.enabled is true")
	}
	return nil
}
