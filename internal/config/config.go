package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	defaultPort            = 18790
	defaultMem0URL         = "https://api.mem0.ai"
	defaultSupermemoryURL  = "https://api.supermemory.ai"
	defaultSessionCookie   = "session"
	defaultStreamTimeout   = 300
	defaultFlushBytes      = 512
	defaultFlushIdleMs     = 1500
	defaultMaxTokens       = 4096
	defaultClientServerURL = "http://127.0.0.1:18790"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Stream.TimeoutSeconds == 0 {
		cfg.Stream.TimeoutSeconds = defaultStreamTimeout
	}
	if cfg.Stream.FlushBytes == 0 {
		cfg.Stream.FlushBytes = defaultFlushBytes
	}
	if cfg.Stream.FlushIdleMs == 0 {
		cfg.Stream.FlushIdleMs = defaultFlushIdleMs
	}
	if cfg.Stream.MaxTokens == 0 {
		cfg.Stream.MaxTokens = defaultMaxTokens
	}
	if cfg.Mem0.BaseURL == "" {
		cfg.Mem0.BaseURL = defaultMem0URL
	}
	if cfg.Supermemory.BaseURL == "" {
		cfg.Supermemory.BaseURL = defaultSupermemoryURL
	}
	if cfg.Identity.SessionCookie == "" {
		cfg.Identity.SessionCookie = defaultSessionCookie
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = defaultClientServerURL
	}
}
