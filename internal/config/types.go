package config

// Config is the root configuration for memarena.
type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Store       StoreConfig       `yaml:"store,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Stream      StreamConfig      `yaml:"stream,omitempty"`
	MemoryLake  MemoryLakeConfig  `yaml:"memorylake,omitempty"`
	Mem0        Mem0Config        `yaml:"mem0,omitempty"`
	Supermemory SupermemoryConfig `yaml:"supermemory,omitempty"`
	LiteLLM     LiteLLMConfig     `yaml:"litellm,omitempty"`
	Arena       ArenaConfig       `yaml:"arena,omitempty"`
	Identity    IdentityConfig    `yaml:"identity,omitempty"`
	Client      ClientConfig      `yaml:"client,omitempty"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file; defaults to <data>/memarena.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StreamConfig tunes agent streaming.
type StreamConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
	// FlushBytes and FlushIdleMs control how often partial assistant text is
	// written to the store while a stream is still running.
	FlushBytes  int `yaml:"flushBytes,omitempty"`
	FlushIdleMs int `yaml:"flushIdleMs,omitempty"`
	MaxTokens   int `yaml:"maxTokens,omitempty"`
}

// MemoryLakeConfig configures the Memory Lake agent (Anthropic Messages protocol).
type MemoryLakeConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

// Mem0Config configures the Mem0 memory API.
type Mem0Config struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

// SupermemoryConfig configures the Supermemory API.
type SupermemoryConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

// LiteLLMConfig is the model gateway shared by the mem0 and supermemory agents.
type LiteLLMConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

// ArenaConfig points at the Arena backend (documents, drives, uploads, profile).
type ArenaConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// IdentityConfig configures the session-cookie exchange with the main domain.
type IdentityConfig struct {
	MainDomainURL string `yaml:"mainDomainUrl,omitempty"`
	SessionCookie string `yaml:"sessionCookie,omitempty"`
}

// ClientConfig holds defaults for the chat CLI.
type ClientConfig struct {
	ServerURL string `yaml:"serverUrl,omitempty"`
	UserID    string `yaml:"userId,omitempty"`
	ProjectID string `yaml:"projectId,omitempty"`
	Model     string `yaml:"model,omitempty"`
}
