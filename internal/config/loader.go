package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the file at
// path (YAML, or JSON with comments for .json and .jsonc), then CHATFORM_*
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Message: fmt.Sprintf("failed to parse %s: %v", filepath.Base(path), err)}
		}
		fillDefaults(&cfg)
		expandSecrets(&cfg)
	}

	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(&cfg, v)
		}
	}
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based edits.
// A missing file yields an empty map.
func LoadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse %s: %v", filepath.Base(path), err)}
	}
	return raw, nil
}

// SaveRaw replaces the config file with raw. The file is written next to
// the target and renamed into place so a crash never leaves half a file.
func SaveRaw(path string, raw map[string]any) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(raw, "", "  ")
	} else {
		data, err = yaml.Marshal(raw)
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func isJSON(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return true
	}
	return false
}

// readConfigFile returns the file contents ready for the YAML decoder.
// JSON files are decoded with comments stripped and re-encoded as YAML.
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil || !isJSON(path) {
		return data, err
	}
	var doc any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse %s: %v", filepath.Base(path), err)}
	}
	return yaml.Marshal(doc)
}

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv substitutes environment references. A reference to an unset
// variable without a fallback is kept verbatim so the mistake is visible.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok {
			return v
		}
		if strings.Contains(ref, ":-") {
			return m[2]
		}
		return ref
	})
}

// expandSecrets lets credentials live in the environment instead of the
// config file.
func expandSecrets(cfg *Config) {
	for _, p := range []*string{
		&cfg.Gateway.Auth.Token,
		&cfg.Exchange.Token,
		&cfg.Exchange.URL,
		&cfg.Agents.URL,
		&cfg.LLM.APIKey,
	} {
		*p = expandEnv(*p)
	}
	if irc := cfg.Channels.IRC; irc != nil {
		irc.Password = expandEnv(irc.Password)
	}
}

// fillDefaults restores defaults for fields an explicit file left empty.
func fillDefaults(cfg *Config) {
	d := Defaults()
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setStr := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}

	setInt(&cfg.Gateway.Port, d.Gateway.Port)
	setStr(&cfg.Gateway.Bind, d.Gateway.Bind)
	setStr(&cfg.Exchange.Mode, d.Exchange.Mode)
	setInt(&cfg.Exchange.TimeoutSeconds, d.Exchange.TimeoutSeconds)
	setStr(&cfg.Agents.Source, d.Agents.Source)
	setInt(&cfg.Agents.CacheSeconds, d.Agents.CacheSeconds)
	setStr(&cfg.Store.Driver, d.Store.Driver)
	setStr(&cfg.Logging.Level, d.Logging.Level)
	setStr(&cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
	setStr(&cfg.LLM.Provider, d.LLM.Provider)
	setInt(&cfg.LLM.MaxTokens, d.LLM.MaxTokens)

	// Model and endpoint defaults only make sense for the default provider.
	if cfg.LLM.Provider == d.LLM.Provider {
		setStr(&cfg.LLM.Model, d.LLM.Model)
		setStr(&cfg.LLM.Endpoint, d.LLM.Endpoint)
	}
}

type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

// envOverrides are applied after the file, in order.
var envOverrides = []envOverride{
	{"CHATFORM_GATEWAY_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}},
	{"CHATFORM_GATEWAY_BIND", func(c *Config, v string) { c.Gateway.Bind = v }},
	{"CHATFORM_GATEWAY_TOKEN", func(c *Config, v string) { c.Gateway.Auth.Token = v }},
	{"CHATFORM_EXCHANGE_MODE", func(c *Config, v string) { c.Exchange.Mode = strings.ToLower(v) }},
	{"CHATFORM_EXCHANGE_URL", func(c *Config, v string) { c.Exchange.URL = v }},
	{"CHATFORM_EXCHANGE_TOKEN", func(c *Config, v string) { c.Exchange.Token = v }},
	{"CHATFORM_AGENTS_SOURCE", func(c *Config, v string) { c.Agents.Source = strings.ToLower(v) }},
	{"CHATFORM_LLM_PROVIDER", func(c *Config, v string) { c.LLM.Provider = strings.ToLower(v) }},
	{"CHATFORM_LLM_API_KEY", func(c *Config, v string) { c.LLM.APIKey = v }},
	{"CHATFORM_LLM_MODEL", func(c *Config, v string) { c.LLM.Model = v }},
	{"CHATFORM_STORE_DRIVER", func(c *Config, v string) { c.Store.Driver = strings.ToLower(v) }},
	{"CHATFORM_STORE_PATH", func(c *Config, v string) { c.Store.Path = v }},
	{"CHATFORM_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) }},
}
