package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "local", cfg.Exchange.Mode)
	assert.Equal(t, 30, cfg.Exchange.TimeoutSeconds)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "dir", cfg.Agents.Source)
	assert.True(t, cfg.Agents.DemoEnabled())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "auto", cfg.Logging.ConsoleStyle)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18790, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    token: secret123
  allowedOrigins:
    - https://forms.example.com
exchange:
  mode: remote
  url: https://edge.example.com/functions/chat
  timeoutSeconds: 10
llm:
  provider: claude
  apiKey: sk-test
agents:
  source: store
  demo: false
logging:
  level: debug
  consoleStyle: json
channels:
  irc:
    server: irc.libera.chat
    port: 6697
    nick: formbot
    agentId: signup
    useTLS: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Token)
	assert.Equal(t, []string{"https://forms.example.com"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "remote", cfg.Exchange.Mode)
	assert.Equal(t, 10, cfg.Exchange.TimeoutSeconds)
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.Model, "ollama model default must not leak into other providers")
	assert.Equal(t, "store", cfg.Agents.Source)
	assert.False(t, cfg.Agents.DemoEnabled())
	assert.Equal(t, 60, cfg.Agents.CacheSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)

	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, "irc.libera.chat", cfg.Channels.IRC.Server)
	assert.Equal(t, 6697, cfg.Channels.IRC.Port)
	assert.Equal(t, "formbot", cfg.Channels.IRC.Nick)
	assert.Equal(t, "signup", cfg.Channels.IRC.AgentID)
	assert.True(t, cfg.Channels.IRC.UseTLS)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATFORM_GATEWAY_PORT", "12345")
	t.Setenv("CHATFORM_LOG_LEVEL", "TRACE")
	t.Setenv("CHATFORM_EXCHANGE_MODE", "Remote")
	t.Setenv("CHATFORM_LLM_API_KEY", "from-env")
	t.Setenv("CHATFORM_STORE_DRIVER", "Memory")
	t.Setenv("CHATFORM_GATEWAY_BIND", "")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "remote", cfg.Exchange.Mode)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "loopback", cfg.Gateway.Bind, "empty variables are ignored")
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_CHAT_TOKEN", "expanded")
	t.Setenv("TEST_EDGE_HOST", "edge.example.com")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
exchange:
  token: ${TEST_CHAT_TOKEN}
  url: https://${TEST_EDGE_HOST}/functions/chat
gateway:
  auth:
    token: ${UNSET_GATEWAY_TOKEN:-fallback-token}
llm:
  apiKey: ${UNSET_CHAT_VAR}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Exchange.Token)
	assert.Equal(t, "https://edge.example.com/functions/chat", cfg.Exchange.URL)
	assert.Equal(t, "fallback-token", cfg.Gateway.Auth.Token)
	assert.Equal(t, "${UNSET_CHAT_VAR}", cfg.LLM.APIKey)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_SET", "value")
	t.Setenv("TEST_EMPTY", "")

	tests := map[string]string{
		"plain":                  "plain",
		"${TEST_SET}":            "value",
		"a-${TEST_SET}-b":        "a-value-b",
		"${TEST_EMPTY:-default}": "",
		"${TEST_UNSET:-default}": "default",
		"${TEST_UNSET:-}":        "",
		"${TEST_UNSET}":          "${TEST_UNSET}",
		"$TEST_SET":              "$TEST_SET",
	}
	for in, want := range tests {
		assert.Equal(t, want, expandEnv(in), in)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	body := `{
	// embedding site
	"gateway": {"port": 9100, "allowedOrigins": ["https://shop.example"]},
	"agents": {"source": "http", "url": "https://forms.example/api/agents",},
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Gateway.Port)
	assert.Equal(t, []string{"https://shop.example"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "http", cfg.Agents.Source)
	assert.Equal(t, "https://forms.example/api/agents", cfg.Agents.URL)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gateway": `), 0o600))

	_, err := Load(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "config.json")
}

func TestValidateValid(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidateInvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 99999
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "gateway.port", issues[0].Path)
}

func TestValidateInvalidExchangeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.Mode = "invalid"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "exchange.mode", issues[0].Path)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, mustPath(t, "gateway.port"))
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveRaw_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, SaveRaw(path, map[string]any{"store": map[string]any{"driver": "memory"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"store":{"driver":"memory"}}`, string(data))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	v, ok := GetValueAtPath(raw, mustPath(t, "store.driver"))
	require.True(t, ok)
	assert.Equal(t, "memory", v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadRaw_MissingFileIsEmpty(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}
