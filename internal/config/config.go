package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Exchange: ExchangeConfig{
			Mode:           "local",
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     "llama3.2",
			Endpoint:  "http://localhost:11434",
			MaxTokens: 1024,
		},
		Agents: AgentsConfig{
			Source:       "dir",
			CacheSeconds: 60,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "auto",
		},
	}
}
