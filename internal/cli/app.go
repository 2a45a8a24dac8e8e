package cli

import (
	"fmt"
	"time"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/llm"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/store"
)

// app holds the services shared by serve and chat.
type app struct {
	cfg         config.Config
	db          *store.DB
	source      agents.Provider // configured source, without cache or demo
	agents      agents.Provider
	chat        exchange.Service
	submissions store.Submissions
	hooks       *hooks.Manager
	sessions    *session.Manager
}

// newApp wires the configured store, agent source, exchange service and
// hooks. Close releases the database.
func newApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	source, err := a.agentSource()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.source = source
	a.agents = source
	if cfg.Agents.CacheSeconds > 0 {
		a.agents = agents.NewCachingProvider(a.agents, time.Duration(cfg.Agents.CacheSeconds)*time.Second)
	}
	if cfg.Agents.DemoEnabled() {
		a.agents = agents.NewDemoFallback(a.agents, true, log)
	}

	a.chat = a.exchangeService()
	a.registerHooks()
	a.sessions = session.NewManager(a.agents, a.chat, a.hooks, log)
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store.Driver {
	case "memory":
		a.submissions = store.NewMemorySubmissions()
		log.Info().Msg("using in-memory submission store")
		return nil
	default:
		path := a.cfg.Store.Path
		if path == "" {
			path = paths.Database
		}
		db, err := store.Open(path, log)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		a.submissions = store.NewSubmissionStore(db)
		return nil
	}
}

func (a *app) agentSource() (agents.Provider, error) {
	switch a.cfg.Agents.Source {
	case "store":
		if a.db == nil {
			return nil, fmt.Errorf("agents.source store needs the sqlite store driver")
		}
		return store.NewAgentStore(a.db), nil
	case "http":
		// Agent configs live with the chat function, behind the same credential.
		return agents.NewHTTPProvider(a.cfg.Agents.URL, a.cfg.Exchange.Token, a.exchangeTimeout()), nil
	default:
		dir := a.cfg.Agents.Dir
		if dir == "" {
			dir = paths.Agents
		}
		return agents.NewFileProvider(dir), nil
	}
}

func (a *app) exchangeTimeout() time.Duration {
	return time.Duration(a.cfg.Exchange.TimeoutSeconds) * time.Second
}

func (a *app) exchangeService() exchange.Service {
	if a.cfg.Exchange.Mode == "remote" {
		log.Info().Str("url", a.cfg.Exchange.URL).Msg("using remote chat function")
		return exchange.NewHTTPClient(a.cfg.Exchange.URL, a.cfg.Exchange.Token, a.exchangeTimeout())
	}

	registry := llm.NewRegistryFromConfig(a.cfg.LLM, log)
	if providers := registry.List(); len(providers) > 0 {
		log.Info().Strs("providers", providers).Msg("LLM providers available")
	} else {
		log.Warn().Msg("no LLM providers configured, messages will fail until one is")
	}
	client := llm.NewFailoverClient(registry, log)
	return exchange.NewLocalService(a.agents, client, exchange.LocalOptions{
		Model:       a.cfg.LLM.Model,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Temperature: a.cfg.LLM.Temperature,
	}, log)
}

func (a *app) registerHooks() {
	a.hooks.On(hooks.EventSessionCompleted, "submissions", store.SubmissionHook(a.submissions, log))

	register := func(event string, entries []config.HookEntry) {
		for i, h := range entries {
			name := fmt.Sprintf("command-%d", i)
			a.hooks.On(event, name, hooks.Command(h.Command, time.Duration(h.Timeout)*time.Millisecond))
		}
	}
	register(hooks.EventSessionCompleted, a.cfg.Hooks.SessionCompleted)
	register(hooks.EventFormFallbackSubmitted, a.cfg.Hooks.FormFallbackSubmitted)
}

// Close ends all sessions, waits for running hooks and releases the
// database.
func (a *app) Close() error {
	if a.sessions != nil {
		a.sessions.CloseAll()
	}
	if a.hooks != nil {
		a.hooks.Wait()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
