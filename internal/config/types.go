package config

// Config is the root configuration for a chatform server.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Exchange ExchangeConfig `yaml:"exchange,omitempty"`
	LLM      LLMConfig      `yaml:"llm,omitempty"`
	Agents   AgentsConfig   `yaml:"agents,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the visitor HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth protects operator endpoints (submissions, the chat function).
// Visitor sockets are public.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ExchangeConfig selects how visitor messages are processed.
type ExchangeConfig struct {
	Mode           string `yaml:"mode,omitempty"` // "local" | "remote"
	URL            string `yaml:"url,omitempty"`
	Token          string `yaml:"token,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// LLMConfig configures the model used by the local exchange service.
type LLMConfig struct {
	Provider    string   `yaml:"provider,omitempty"` // "claude" | "gemini" | "ollama" | "mock"
	APIKey      string   `yaml:"apiKey,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Endpoint    string   `yaml:"endpoint,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"`
}

// AgentsConfig defines where agent definitions come from.
type AgentsConfig struct {
	Source       string `yaml:"source,omitempty"` // "dir" | "store" | "http"
	Dir          string `yaml:"dir,omitempty"`
	URL          string `yaml:"url,omitempty"`
	CacheSeconds int    `yaml:"cacheSeconds,omitempty"`
	Demo         *bool  `yaml:"demo,omitempty"` // serve the built-in demo agent; defaults to true
}

// DemoEnabled reports whether the built-in demo agent is served.
func (a AgentsConfig) DemoEnabled() bool {
	return a.Demo == nil || *a.Demo
}

// StoreConfig configures persistence of agents and completed submissions.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// ChannelsConfig defines channel-specific configurations.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels,omitempty"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	AgentID  string   `yaml:"agentId"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json" | "auto"
	File         string `yaml:"file,omitempty"`         // JSON lines appended here as well
}

// HooksConfig defines shell commands run on session events.
type HooksConfig struct {
	SessionCompleted      []HookEntry `yaml:"sessionCompleted,omitempty"`
	FormFallbackSubmitted []HookEntry `yaml:"formFallbackSubmitted,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
