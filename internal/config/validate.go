package config

import (
	"fmt"
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
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Exchange validation
	oneOf("exchange.mode", cfg.Exchange.Mode, []string{"local", "remote"})
	if cfg.Exchange.Mode == "remote" && cfg.Exchange.URL == "" {
		add("exchange.url", "required when mode is remote")
	}
	if cfg.Exchange.TimeoutSeconds < 0 {
		add("exchange.timeoutSeconds", "must not be negative, got %d", cfg.Exchange.TimeoutSeconds)
	}

	// LLM validation (only used by the local exchange)
	validProviders := []string{"claude", "gemini", "ollama", "mock"}
	oneOf("llm.provider", cfg.LLM.Provider, validProviders)
	for i, fb := range cfg.LLM.Fallbacks {
		oneOf(fmt.Sprintf("llm.fallbacks[%d]", i), fb, validProviders)
	}
	if cfg.Exchange.Mode != "remote" {
		if (cfg.LLM.Provider == "claude" || cfg.LLM.Provider == "gemini") && cfg.LLM.APIKey == "" {
			add("llm.apiKey", "required for provider %q", cfg.LLM.Provider)
		}
	}
	if cfg.LLM.MaxTokens < 0 {
		add("llm.maxTokens", "must not be negative, got %d", cfg.LLM.MaxTokens)
	}
	if t := cfg.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("llm.temperature", "must be between 0 and 2, got %g", *t)
	}

	// Agents validation
	oneOf("agents.source", cfg.Agents.Source, []string{"dir", "store", "http"})
	if cfg.Agents.Source == "http" && cfg.Agents.URL == "" {
		add("agents.url", "required when source is http")
	}
	if cfg.Agents.CacheSeconds < 0 {
		add("agents.cacheSeconds", "must not be negative, got %d", cfg.Agents.CacheSeconds)
	}

	// Store validation
	oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "memory"})
	if cfg.Agents.Source == "store" && cfg.Store.Driver == "memory" {
		add("agents.source", "store source needs a persistent store driver")
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json", "auto"})

	// IRC validation (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.AgentID == "" {
			add("channels.irc.agentId", "agentId is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	// Hooks validation
	for i, h := range cfg.Hooks.SessionCompleted {
		if h.Command == "" {
			add(fmt.Sprintf("hooks.sessionCompleted[%d].command", i), "command is required")
		}
	}
	for i, h := range cfg.Hooks.FormFallbackSubmitted {
		if h.Command == "" {
			add(fmt.Sprintf("hooks.formFallbackSubmitted[%d].command", i), "command is required")
		}
	}

	return issues
}
