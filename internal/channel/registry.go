// Package channel manages the messaging integrations through which visitors
// can reach an agent outside the web widget.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/logging"
)

const (
	defaultMinBackoff = 2 * time.Second
	defaultMaxBackoff = 2 * time.Minute
)

type entry struct {
	ch       domain.Channel
	lastErr  string
	restarts int
}

// Registry holds the configured channels and keeps them connected: a
// channel whose Start returns is started again with exponential backoff
// until StopAll is called or the start context ends.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*entry
	log      *logging.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels:   make(map[string]*entry),
		log:        log.Sub("channels"),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		done:       make(chan struct{}),
	}
}

// Register adds a channel. Channel IDs must be unique.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.channels[ch.ID()]; dup {
		return fmt.Errorf("channel %q already registered", ch.ID())
	}
	r.channels[ch.ID()] = &entry{ch: ch}
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
	return nil
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[id]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

// List returns all channel IDs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Send delivers msg through the channel named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("channel not found: %s", msg.ChannelID)
	}
	return ch.Send(ctx, msg)
}

// Status reports every channel, sorted by ID. Channels that do not report
// their own status are shown as running. The last start error and the
// restart count come from the registry.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]domain.ChannelStatus, 0, len(r.channels))
	for id, e := range r.channels {
		st := domain.ChannelStatus{ChannelID: id, Running: true}
		if sc, ok := e.ch.(interface{ Status() domain.ChannelStatus }); ok {
			st = sc.Status()
		}
		if st.LastError == "" {
			st.LastError = e.lastErr
		}
		st.Restarts = e.restarts
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ChannelID < statuses[j].ChannelID })
	return statuses
}

// StartAll starts each channel in its own goroutine and returns at once.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, e := range r.channels {
		r.log.Info().Str("channel", id).Msg("starting channel")
		r.wg.Add(1)
		go r.supervise(ctx, id, e)
	}
	return nil
}

func (r *Registry) supervise(ctx context.Context, id string, e *entry) {
	defer r.wg.Done()

	backoff := r.minBackoff
	for {
		started := time.Now()
		err := e.ch.Start(ctx)
		if ctx.Err() != nil || r.stopped() {
			return
		}

		r.mu.Lock()
		e.restarts++
		if err != nil {
			e.lastErr = err.Error()
		}
		r.mu.Unlock()

		// A long healthy run resets the delay.
		if time.Since(started) > r.maxBackoff {
			backoff = r.minBackoff
		}
		r.log.Warn().Err(err).Str("channel", id).Dur("retryIn", backoff).Msg("channel stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

func (r *Registry) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// StopAll stops every channel and waits, bounded by ctx, for their
// supervisors to exit.
func (r *Registry) StopAll(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.RLock()
	for id, e := range r.channels {
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := e.ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
		}
	}
	r.mu.RUnlock()

	exited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-ctx.Done():
		r.log.Warn().Msg("channels did not exit before shutdown deadline")
	}
}
