package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets API keys and endpoints be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	for _, p := range []*string{
		&cfg.MemoryLake.BaseURL, &cfg.MemoryLake.APIKey,
		&cfg.Mem0.APIKey,
		&cfg.Supermemory.APIKey,
		&cfg.LiteLLM.BaseURL, &cfg.LiteLLM.APIKey,
		&cfg.Arena.BaseURL,
		&cfg.Identity.MainDomainURL,
	} {
		*p = expandEnvVars(*p)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			applyDefaults(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based edits.
// A missing file yields an empty map.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to the YAML config file, creating its
// directory when needed.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// envOverrides maps upstream deployment variable names onto config fields.
// They win over the file so a container can be configured by env alone.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"ZOOTOPIA_API":        &cfg.MemoryLake.BaseURL,
		"ZOOTOPIA_API_KEY":    &cfg.MemoryLake.APIKey,
		"MEM0_API_KEY":        &cfg.Mem0.APIKey,
		"MEM0_API":            &cfg.Mem0.BaseURL,
		"SUPERMEMORY_API_KEY": &cfg.Supermemory.APIKey,
		"SUPERMEMORY_API":     &cfg.Supermemory.BaseURL,
		"LITELLM_API":         &cfg.LiteLLM.BaseURL,
		"LITELLM_API_KEY":     &cfg.LiteLLM.APIKey,
		"ARENA_API_BASE":      &cfg.Arena.BaseURL,
		"MAIN_DOMAIN_API_URL": &cfg.Identity.MainDomainURL,
		"SESSION_COOKIE_NAME": &cfg.Identity.SessionCookie,
		"MEMARENA_BIND":       &cfg.Server.Bind,
		"MEMARENA_STORE":      &cfg.Store.Driver,
		"MEMARENA_DB_PATH":    &cfg.Store.Path,
		"MEMARENA_SERVER_URL": &cfg.Client.ServerURL,
		"MEMARENA_USER_ID":    &cfg.Client.UserID,
		"MEMARENA_MODEL":      &cfg.Client.Model,
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("MEMARENA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MEMARENA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Redacted returns a copy of cfg with secrets masked, suitable for printing.
func Redacted(cfg Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cfg.MemoryLake.APIKey = mask(cfg.MemoryLake.APIKey)
	cfg.Mem0.APIKey = mask(cfg.Mem0.APIKey)
	cfg.Supermemory.APIKey = mask(cfg.Supermemory.APIKey)
	cfg.LiteLLM.APIKey = mask(cfg.LiteLLM.APIKey)
	return cfg
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
