package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	r := NewRegistry(logging.New(nil, "silent"))
	r.minBackoff = 5 * time.Millisecond
	r.maxBackoff = 20 * time.Millisecond
	return r
}

// fakeChannel records calls. Start returns startErr right away unless
// block is set, in which case it runs until ctx ends or Stop is called.
type fakeChannel struct {
	id       string
	block    bool
	startErr error

	mu      sync.Mutex
	starts  int
	stopped bool
	sent    []domain.OutboundMessage
	quit    chan struct{}
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	if f.quit == nil {
		f.quit = make(chan struct{})
	}
	quit := f.quit
	f.mu.Unlock()

	if !f.block {
		return f.startErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-quit:
		return nil
	}
}

func (f *fakeChannel) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.quit != nil {
		close(f.quit)
		f.quit = nil
	}
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) OnMessage(func(domain.InboundMessage)) {}

func (f *fakeChannel) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// statusChannel also reports its own status.
type statusChannel struct {
	fakeChannel
}

func (s *statusChannel) Status() domain.ChannelStatus {
	return domain.ChannelStatus{ChannelID: s.id, Connected: true, Running: true}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.Register(&fakeChannel{id: "irc"}))
	require.NoError(t, reg.Register(&fakeChannel{id: "console"}))

	got, ok := reg.Get("irc")
	require.True(t, ok)
	assert.Equal(t, "irc", got.ID())

	_, ok = reg.Get("slack")
	assert.False(t, ok)

	assert.Equal(t, []string{"console", "irc"}, reg.List())
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.Register(&fakeChannel{id: "irc"}))
	err := reg.Register(&fakeChannel{id: "irc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Send(t *testing.T) {
	reg := testRegistry()
	ch := &fakeChannel{id: "irc"}
	require.NoError(t, reg.Register(ch))

	msg := domain.OutboundMessage{ChannelID: "irc", To: "alice", Body: "hi"}
	require.NoError(t, reg.Send(context.Background(), msg))
	assert.Equal(t, []domain.OutboundMessage{msg}, ch.sent)

	err := reg.Send(context.Background(), domain.OutboundMessage{ChannelID: "slack"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel not found")
}

func TestRegistry_Status(t *testing.T) {
	reg := testRegistry()
	require.NoError(t, reg.Register(&fakeChannel{id: "irc"}))
	require.NoError(t, reg.Register(&statusChannel{fakeChannel{id: "console"}}))

	st := reg.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "console", st[0].ChannelID)
	assert.True(t, st[0].Connected)
	assert.Equal(t, "irc", st[1].ChannelID)
	assert.True(t, st[1].Running)
	assert.False(t, st[1].Connected)
}

func TestRegistry_RestartsWithBackoff(t *testing.T) {
	reg := testRegistry()
	ch := &fakeChannel{id: "irc", startErr: errors.New("connection refused")}
	require.NoError(t, reg.Register(ch))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.StartAll(ctx))

	assert.Eventually(t, func() bool { return ch.startCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	st := reg.Status()
	require.Len(t, st, 1)
	assert.Equal(t, "connection refused", st[0].LastError)
	assert.GreaterOrEqual(t, st[0].Restarts, 2)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	reg.StopAll(stopCtx)
	n := ch.startCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, ch.startCount(), "no restarts after StopAll")
}

func TestRegistry_ContextEndsSupervision(t *testing.T) {
	reg := testRegistry()
	ch := &fakeChannel{id: "irc", block: true}
	require.NoError(t, reg.Register(ch))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, reg.StartAll(ctx))
	assert.Eventually(t, func() bool { return ch.startCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	reg.StopAll(stopCtx)

	assert.Equal(t, 1, ch.startCount())
	assert.Equal(t, 0, reg.Status()[0].Restarts)
}

func TestRegistry_StopAllStopsBlockingChannels(t *testing.T) {
	reg := testRegistry()
	a := &fakeChannel{id: "irc", block: true}
	b := &fakeChannel{id: "console", block: true}
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	require.NoError(t, reg.StartAll(context.Background()))
	assert.Eventually(t, func() bool { return a.startCount() == 1 && b.startCount() == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reg.StopAll(stopCtx)

	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
	assert.Equal(t, 1, a.startCount())
}
