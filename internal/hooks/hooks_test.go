package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/chatform/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	m := NewManager(logging.New(nil, "silent"))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600)) }
	return m
}

func nop(context.Context, Payload) error { return nil }

func TestEmit_PayloadCarriesEventTimeAndData(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventSessionCompleted, "capture", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventSessionCompleted, map[string]any{
		"agentId":   "signup",
		"sessionId": "s-1",
	})

	assert.Equal(t, EventSessionCompleted, got.Event)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), got.Time)
	assert.Equal(t, "signup", got.Data["agentId"])
	assert.Equal(t, "s-1", got.Data["sessionId"])
}

func TestEmit_RegistrationOrder(t *testing.T) {
	m := testManager()

	var order []string
	for _, name := range []string{"store", "command-0", "command-1"} {
		m.On(EventFormFallbackSubmitted, name, func(context.Context, Payload) error {
			order = append(order, name)
			return nil
		})
	}

	m.Emit(context.Background(), EventFormFallbackSubmitted, nil)
	assert.Equal(t, []string{"store", "command-0", "command-1"}, order)
}

func TestEmit_FailuresDoNotStopLaterHandlers(t *testing.T) {
	m := testManager()

	var reached int
	m.On(EventSessionCompleted, "error", func(context.Context, Payload) error {
		return errors.New("disk full")
	})
	m.On(EventSessionCompleted, "panic", func(context.Context, Payload) error {
		panic("boom")
	})
	m.On(EventSessionCompleted, "last", func(context.Context, Payload) error {
		reached++
		return nil
	})

	m.Emit(context.Background(), EventSessionCompleted, nil)
	assert.Equal(t, 1, reached)
}

func TestEmit_NoHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventGatewayStop, nil)
	m.EmitAsync(context.Background(), EventGatewayStop, nil)
	m.Wait()
}

func TestEmit_LateRegistrationNotSeenByRunningEmit(t *testing.T) {
	m := testManager()

	var second atomic.Bool
	m.On(EventSessionStart, "registers", func(context.Context, Payload) error {
		m.On(EventSessionStart, "late", func(context.Context, Payload) error {
			second.Store(true)
			return nil
		})
		return nil
	})

	m.Emit(context.Background(), EventSessionStart, nil)
	assert.False(t, second.Load())
	assert.Equal(t, 2, m.Count(EventSessionStart))
}

func TestEmitAsync_WaitDrainsHandlers(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		m.On(EventMessageSending, name, func(context.Context, Payload) error {
			<-release
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventMessageSending, nil)

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before handlers finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestEmitAsync_Concurrent(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	m.On(EventMessageReceived, "count", func(context.Context, Payload) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EmitAsync(context.Background(), EventMessageReceived, nil)
		}()
	}
	wg.Wait()
	m.Wait()
	assert.Equal(t, int32(20), count.Load())
}

func TestCountAndEvents(t *testing.T) {
	m := testManager()
	assert.Equal(t, 0, m.Count(EventSessionCompleted))
	assert.Empty(t, m.Events())

	m.On(EventSessionCompleted, "store", nop)
	m.On(EventSessionCompleted, "command-0", nop)
	m.On(EventConsentAccepted, "audit", nop)

	assert.Equal(t, 2, m.Count(EventSessionCompleted))
	assert.Equal(t, []string{EventConsentAccepted, EventSessionCompleted}, m.Events())
}

func TestOn_UnknownEventStillRegisters(t *testing.T) {
	m := testManager()
	m.On("session_exploded", "x", nop)
	assert.Equal(t, 1, m.Count("session_exploded"))
}

func TestAllEvents(t *testing.T) {
	require.Len(t, AllEvents, 9)
	assert.Contains(t, AllEvents, EventSessionCompleted)
	assert.Contains(t, AllEvents, EventFormFallbackSubmitted)
}
