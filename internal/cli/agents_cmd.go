package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/store"
	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage agent definitions",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsShowCmd())
	cmd.AddCommand(newAgentsValidateCmd())
	cmd.AddCommand(newAgentsImportCmd())
	cmd.AddCommand(newAgentsRemoveCmd())
	return cmd
}

// openCatalog opens only the configured agent source, without the
// exchange or hooks.
func openCatalog() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	if cfg.Agents.Source == "store" {
		if err := a.openStore(); err != nil {
			return nil, err
		}
	}
	source, err := a.agentSource()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.source = source
	a.agents = source
	if cfg.Agents.DemoEnabled() {
		a.agents = agents.NewDemoFallback(source, false, log)
	}
	return a, nil
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the agents of the configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCatalog()
			if err != nil {
				return err
			}
			defer a.Close()

			lister, ok := a.source.(agents.Lister)
			if !ok {
				return fmt.Errorf("agents.source %q cannot list agents", a.cfg.Agents.Source)
			}
			list, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.cfg.Agents.DemoEnabled() {
				list = append(list, agents.DemoConfig())
			}
			if len(list) == 0 {
				fmt.Println("No agents defined.")
				return nil
			}
			for _, ag := range list {
				fmt.Println(agentLine(ag))
			}
			return nil
		},
	}
}

func newAgentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show the fields an agent collects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCatalog()
			if err != nil {
				return err
			}
			defer a.Close()

			ag, err := a.agents.Get(cmd.Context(), args[0])
			if errors.Is(err, agents.ErrAgentNotFound) {
				return fmt.Errorf("agent not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			printAgent(ag)
			return nil
		},
	}
}

func newAgentsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check agent definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				ag, err := agents.LoadFile(path)
				if err != nil {
					failed++
					fmt.Printf("FAIL %v\n", err)
					continue
				}
				fmt.Printf("ok   %s (%s, %d fields)\n", path, ag.ID, len(ag.Fields))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newAgentsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Add agent definition files to the configured source",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCatalog()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				ag, err := agents.LoadFile(path)
				if err != nil {
					return err
				}
				dest, err := importAgent(cmd.Context(), a, ag)
				if err != nil {
					return fmt.Errorf("importing %s: %w", path, err)
				}
				fmt.Printf("Imported %s -> %s\n", ag.ID, dest)
			}
			return nil
		},
	}
}

func importAgent(ctx context.Context, a *app, ag *domain.AgentConfig) (string, error) {
	switch src := a.source.(type) {
	case *store.AgentStore:
		return "store", src.Put(ctx, ag)
	case *agents.FileProvider:
		return agents.WriteFile(src.Dir, ag)
	default:
		return "", fmt.Errorf("agents.source %q is read-only", a.cfg.Agents.Source)
	}
}

func newAgentsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <agent-id>",
		Short: "Remove an agent from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCatalog()
			if err != nil {
				return err
			}
			defer a.Close()

			st, ok := a.source.(*store.AgentStore)
			if !ok {
				return fmt.Errorf("remove only works with agents.source store; delete the file from the agents directory instead")
			}
			if err := st.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func agentLine(ag *domain.AgentConfig) string {
	consent := ""
	if ag.ConsentRequired {
		consent = " consent"
	}
	return fmt.Sprintf("  %-16s %-24s fields=%d%s", ag.ID, ag.Name, len(ag.Fields), consent)
}

func printAgent(ag *domain.AgentConfig) {
	fmt.Printf("Agent: %s (%s)\n", ag.ID, ag.Name)
	if ag.ProductHint != "" {
		fmt.Printf("  Hint:    %s\n", ag.ProductHint)
	}
	if ag.ConsentRequired {
		fmt.Printf("  Consent: %s\n", ag.ConsentText)
	}
	fmt.Println("  Fields:")
	for _, f := range ag.Fields {
		req := ""
		if f.Required {
			req = " required"
		}
		opts := ""
		if len(f.Options) > 0 {
			opts = " [" + strings.Join(f.Options, ", ") + "]"
		}
		fmt.Printf("    %-16s %-10s %s%s%s\n", f.Key, f.Type, f.Label, req, opts)
	}
}
