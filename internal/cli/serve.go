package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/chatform/internal/channel"
	"github.com/soyeahso/chatform/internal/channel/irc"
	"github.com/soyeahso/chatform/internal/gateway"
	"github.com/soyeahso/chatform/internal/routing"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the visitor server",
		Long: "Serves the visitor WebSocket, the agent and form endpoints, the operator API " +
			"and any configured messaging channels.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}
			if watch {
				// Re-exec when the binary on disk is replaced by a rebuild.
				go autorestart.RestartOnChange()
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			channels := channel.NewRegistry(log)
			if cfg.Channels.IRC != nil {
				if err := channels.Register(irc.New(*cfg.Channels.IRC, log)); err != nil {
					return err
				}
			}

			srv := gateway.New(cfg, a.agents, a.sessions, log,
				gateway.WithHooks(a.hooks),
				gateway.WithSubmissions(a.submissions),
				gateway.WithChatFunction(a.chat),
				gateway.WithChannels(channels),
			)

			if channels.Count() > 0 {
				if err := channels.StartAll(ctx); err != nil {
					return fmt.Errorf("starting channels: %w", err)
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					channels.StopAll(stopCtx)
				}()

				routing.NewRouter(channels, a.sessions, log).Wire(ctx)
				log.Info().Int("channels", channels.Count()).Msg("message routing active")
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart when the chatform binary changes")

	return cmd
}
