package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/soyeahso/chatform/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// secretKeys are config leaves that are masked by "config get".
var secretKeys = map[string]bool{
	"token":    true,
	"apikey":   true,
	"password": true,
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set or check configuration values",
	}

	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
		newConfigValidateCmd(),
		newConfigInitCmd(),
	)
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openKey(args[0])
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return errKeyNotFound(args[0])
			}
			if !showSecrets {
				val = redact(config.LastKey(path), val)
			}
			return printValue(val)
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print tokens and keys in clear text")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openKey(args[0])
			if err != nil {
				return err
			}
			value := parseValue(args[1])
			if err := config.SetValueAtPath(raw, path, value); err != nil {
				return err
			}

			// Refuse to write a file the server would reject.
			issues, err := checkRaw(raw)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				return fmt.Errorf("not saved: %s", issues[0])
			}

			if err := saveRaw(raw); err != nil {
				return err
			}

			fmt.Printf("Set %s = %v\n", args[0], redact(config.LastKey(path), value))
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, path, err := openKey(args[0])
			if err != nil {
				return err
			}
			if !config.UnsetValueAtPath(raw, path) {
				return errKeyNotFound(args[0])
			}
			if err := saveRaw(raw); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			issues := config.Validate(&cfg)
			if len(issues) == 0 {
				fmt.Printf("%s: ok\n", paths.Config)
				return nil
			}
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
			return fmt.Errorf("%d issue(s) found", len(issues))
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			existing, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}
			if len(existing) > 0 && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", paths.Config)
			}

			data, err := yaml.Marshal(config.Defaults())
			if err != nil {
				return err
			}
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return err
			}
			if err := saveRaw(raw); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", paths.Config)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// openKey parses key and loads the raw config file it addresses.
func openKey(key string) (map[string]any, []config.PathSegment, error) {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return nil, nil, err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	return raw, path, nil
}

func errKeyNotFound(key string) error {
	return fmt.Errorf("%s: no such key in %s", key, paths.Config)
}

func saveRaw(raw map[string]any) error {
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

// checkRaw decodes a generic config map on top of the defaults and
// validates the result.
func checkRaw(raw map[string]any) ([]config.ValidationIssue, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := config.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config.Validate(&cfg), nil
}

// redact masks secret leaves and any secrets nested below a map value.
func redact(key string, v any) any {
	if secretKeys[strings.ToLower(key)] {
		if s, ok := v.(string); ok && s != "" {
			return redacted
		}
		return v
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		out[k] = redact(k, child)
	}
	return out
}

// printValue prints scalars on one line and maps or lists as YAML.
func printValue(v any) error {
	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	fmt.Println(v)
	return nil
}

// parseValue interprets a command line value as a bool, number or string.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
