package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
//
// Unset upstream endpoints are not issues: an agent without configuration
// reports that through its stream at request time.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind: custom",
		})
	}

	validDrivers := []string{"sqlite", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "store.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.Store.Driver),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	if cfg.Stream.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{Path: "stream.timeoutSeconds", Message: "must not be negative"})
	}
	if cfg.Stream.FlushBytes < 0 {
		issues = append(issues, ValidationIssue{Path: "stream.flushBytes", Message: "must not be negative"})
	}
	if cfg.Stream.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{Path: "stream.maxTokens", Message: "must not be negative"})
	}

	for path, raw := range map[string]string{
		"memorylake.baseUrl":     cfg.MemoryLake.BaseURL,
		"mem0.baseUrl":           cfg.Mem0.BaseURL,
		"supermemory.baseUrl":    cfg.Supermemory.BaseURL,
		"litellm.baseUrl":        cfg.LiteLLM.BaseURL,
		"arena.baseUrl":          cfg.Arena.BaseURL,
		"identity.mainDomainUrl": cfg.Identity.MainDomainURL,
		"client.serverUrl":       cfg.Client.ServerURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be an absolute URL, got %q", raw),
			})
		}
	}

	slices.SortFunc(issues, func(a, b ValidationIssue) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return issues
}

// Unconfigured lists agents whose upstream settings are incomplete. The
// server still starts; those agents answer every request with an error.
func Unconfigured(cfg *Config) []string {
	var out []string
	if cfg.MemoryLake.BaseURL == "" || cfg.MemoryLake.APIKey == "" {
		out = append(out, "memorylake")
	}
	if cfg.LiteLLM.BaseURL == "" || cfg.LiteLLM.APIKey == "" || cfg.Mem0.APIKey == "" {
		out = append(out, "mem0")
	}
	if cfg.LiteLLM.BaseURL == "" || cfg.LiteLLM.APIKey == "" || cfg.Supermemory.APIKey == "" {
		out = append(out, "supermemory")
	}
	return out
}
