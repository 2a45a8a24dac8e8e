package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/gateway"
	"github.com/soyeahso/chatform/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and the state of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s\n\n", version.Info())

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Agents:  %s\n", paths.Agents)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Printf("Config:  error loading: %v\n", err)
				return nil
			}
			printConfigSummary(cfg)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}

			if url == "" {
				url = fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
			}
			fmt.Println()
			st, err := fetchStatus(cmd.Context(), url, gateway.ResolveToken(cfg.Gateway.Auth))
			if err != nil {
				fmt.Printf("Server:  not reachable at %s (%v)\n", url, err)
				return nil
			}
			printServerStatus(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "base URL of the running server (default from gateway.port)")
	return cmd
}

func printConfigSummary(cfg config.Config) {
	fmt.Printf("Gateway: port=%d bind=%s tls=%v operator-token=%v\n",
		cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.TLS.Enabled,
		gateway.ResolveToken(cfg.Gateway.Auth) != "")

	switch cfg.Exchange.Mode {
	case "remote":
		fmt.Printf("Chat:    remote url=%s timeout=%ds\n", cfg.Exchange.URL, cfg.Exchange.TimeoutSeconds)
	default:
		fallbacks := ""
		if len(cfg.LLM.Fallbacks) > 0 {
			fallbacks = " fallbacks=" + strings.Join(cfg.LLM.Fallbacks, ",")
		}
		fmt.Printf("Chat:    local provider=%s model=%s%s\n", cfg.LLM.Provider, cfg.LLM.Model, fallbacks)
	}

	src := cfg.Agents.Source
	switch src {
	case "dir":
		dir := cfg.Agents.Dir
		if dir == "" {
			dir = paths.Agents
		}
		src += " " + dir
	case "http":
		src += " " + cfg.Agents.URL
	}
	fmt.Printf("Agents:  source=%s cache=%ds demo=%v\n", src, cfg.Agents.CacheSeconds, cfg.Agents.DemoEnabled())
	fmt.Printf("Store:   driver=%s\n", cfg.Store.Driver)
	fmt.Printf("Hooks:   session_completed=%d form_fallback_submitted=%d\n",
		len(cfg.Hooks.SessionCompleted), len(cfg.Hooks.FormFallbackSubmitted))

	if irc := cfg.Channels.IRC; irc != nil {
		fmt.Printf("IRC:     server=%s nick=%s agent=%s tls=%v\n", irc.Server, irc.Nick, irc.AgentID, irc.UseTLS)
	} else {
		fmt.Println("IRC:     (not configured)")
	}
}

// fetchStatus asks a running server for its operator status.
func fetchStatus(ctx context.Context, baseURL, token string) (*gateway.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var st gateway.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &st, nil
}

func printServerStatus(st *gateway.StatusResponse) {
	fmt.Printf("Server:  version=%s uptime=%s clients=%d sessions=%d\n", st.Version, st.Uptime, st.Clients, st.Sessions)
	for agent, n := range st.ByAgent {
		fmt.Printf("  agent %-16s %d visitor(s)\n", agent, n)
	}
	for event, n := range st.Hooks {
		fmt.Printf("  hook  %-24s %d handler(s)\n", event, n)
	}
	for _, ch := range st.Channels {
		state := "stopped"
		if ch.Connected {
			state = "connected"
		} else if ch.Running {
			state = "running"
		}
		line := fmt.Sprintf("  channel %-14s %s", ch.ChannelID, state)
		if ch.LastError != "" {
			line += " (" + ch.LastError + ")"
		}
		fmt.Println(line)
	}
}
