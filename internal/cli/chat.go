package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/routing"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/view"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const consoleKey = "console:local"

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [agent-id]",
		Short: "Talk to an agent from the terminal",
		Long: "Runs one visitor session in the terminal, the same way the IRC channel does. " +
			"Lines starting with ! are commands; send !help to list them.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := agents.DemoID
			if len(args) > 0 {
				agentID = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runConsole(ctx, a.sessions, agentID, os.Stdin, os.Stdout, interactive)
		},
	}
	return cmd
}

// runConsole drives one session from line-based input until EOF or ctx is
// cancelled. A prompt is printed before each line when interactive is set.
func runConsole(ctx context.Context, sessions *session.Manager, agentID string, in io.Reader, out io.Writer, interactive bool) error {
	open := func() *session.Controller {
		ctrl, _ := sessions.GetOrCreate(consoleKey, agentID)
		if err := ctrl.Load(ctx); err != nil {
			log.Debug().Err(err).Msg("agent load did not succeed")
		}
		printLines(out, routing.Describe(view.Render(ctrl.Snapshot())))
		return ctrl
	}
	ctrl := open()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "!reset") {
				sessions.Remove(consoleKey)
				ctrl = open()
				continue
			}
			printLines(out, routing.Respond(ctx, ctrl, line))
		}
	}
}

func printLines(out io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}
