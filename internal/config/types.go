package config

import "time"

// Config represents the complete scopegate configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Queue   QueueConfig   `yaml:"queue"`
	Pool    PoolConfig    `yaml:"pool"`
	Helper  HelperConfig  `yaml:"helper"`
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig bounds the command queue's retry policy. RetryDelay is a fixed
// interval, not an exponential base.
type QueueConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PoolConfig bounds the managed resource pool.
type PoolConfig struct {
	MaxSize int `yaml:"max_size"`
}

// HelperConfig locates and bounds the privileged helper process.
type HelperConfig struct {
	Binary           string        `yaml:"binary"`
	Timeout          time.Duration `yaml:"timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

// EngineConfig describes the external backup tool the helper invokes.
type EngineConfig struct {
	Binary           string   `yaml:"binary"`
	Repository       string   `yaml:"repository"`
	PasswordSecretID string   `yaml:"password_secret_id"`
	ExtraArgs        []string `yaml:"extra_args,omitempty"`
}

// APIConfig defines the observability HTTP server settings. APIKey guards
// command submission; leave it empty to keep the API read-only.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "scopegate",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			RetryDelay:   30 * time.Second,
			PollInterval: time.Second,
		},
		Pool: PoolConfig{
			MaxSize: 4,
		},
		Helper: HelperConfig{
			Binary:           "/usr/libexec/scopegate-helper",
			Timeout:          10 * time.Minute,
			TerminationGrace: 5 * time.Second,
		},
		Engine: EngineConfig{
			Binary:           "restic",
			PasswordSecretID: "repo-password",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
