package session

import (
	"sort"
	"sync"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/logging"
)

// Manager owns the controllers of concurrently connected visitors, keyed
// by a transport-specific visitor key. Controllers share no state.
type Manager struct {
	provider agents.Provider
	svc      exchange.Service
	hooks    *hooks.Manager
	log      *logging.Logger

	mu    sync.Mutex
	byKey map[string]*Controller
}

// NewManager creates a manager that builds controllers from the given
// collaborators.
func NewManager(provider agents.Provider, svc exchange.Service, hk *hooks.Manager, log *logging.Logger) *Manager {
	return &Manager{
		provider: provider,
		svc:      svc,
		hooks:    hk,
		log:      log,
		byKey:    make(map[string]*Controller),
	}
}

// New creates a controller without registering it.
func (m *Manager) New(agentID string) *Controller {
	return New(Config{AgentID: agentID}, m.provider, m.svc, m.hooks, m.log)
}

// GetOrCreate returns the controller for key, creating one for agentID if
// there is none. An existing controller for a different agent is closed
// and replaced. created reports whether the caller must Load it.
func (m *Manager) GetOrCreate(key, agentID string) (c *Controller, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[key]; ok {
		if existing.AgentID() == agentID {
			return existing, false
		}
		existing.Close()
	}

	c = m.New(agentID)
	m.byKey[key] = c
	return c, true
}

// Get returns the controller for key, or nil.
func (m *Manager) Get(key string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKey[key]
}

// Remove closes and forgets the controller for key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	c, ok := m.byKey[key]
	delete(m.byKey, key)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Keys returns the registered visitor keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live controllers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// CloseAll closes every controller.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.byKey
	m.byKey = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
