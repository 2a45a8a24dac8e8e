package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/chatform/internal/logging"
	"github.com/soyeahso/chatform/internal/session"
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrSlowClient   = errors.New("client is not reading; outbound queue full")
)

const outboundQueue = 64

// badFrameError is returned by ReadFrame for a message that arrived intact
// but is not a valid frame. The connection stays usable.
type badFrameError struct{ err error }

func (e *badFrameError) Error() string { return "malformed frame: " + e.err.Error() }
func (e *badFrameError) Unwrap() error { return e.err }

// Client is a visitor WebSocket connection bound to one session. Frames are
// queued by Send and written by a single pump goroutine, which also keeps
// the connection alive with pings.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Session     *session.Controller
	ConnectedAt time.Time

	conn      *websocket.Conn
	out       chan Frame
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
	log       *logging.Logger
}

// NewClient wraps a connection that completed the handshake. Call Start
// to begin writing.
func NewClient(conn *websocket.Conn, info ClientInfo, log *logging.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ConnID:      id,
		Info:        info,
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         make(chan Frame, outboundQueue),
		done:        make(chan struct{}),
		log:         log.With("connId", id),
	}
}

// Start arms the read keepalive and launches the write pump.
func (c *Client) Start() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.pumpDone = make(chan struct{})
	go c.writePump()
}

// Send queues a frame. It never blocks: a visitor that stops reading is
// disconnected once its queue fills up.
func (c *Client) Send(frame Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.log.Warn().Int("queued", len(c.out)).Msg("dropping slow visitor")
		if c.conn != nil {
			c.conn.Close()
		}
		return ErrSlowClient
	}
}

// SendEvent queues a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond queues a success response for request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError queues an error response for request reqID.
func (c *Client) RespondError(reqID string, e ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, e))
}

// ReadFrame blocks for the next frame. A *badFrameError means the message
// could not be decoded but the socket is still healthy.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, &badFrameError{err: err}
	}
	return f, nil
}

func (c *Client) writePump() {
	defer close(c.pumpDone)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.conn.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then says goodbye.
func (c *Client) flush() {
	for {
		select {
		case f := <-c.out:
			if c.write(f) != nil {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) write(f Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

// Close stops the pump after it drains the queue, then closes the socket.
// It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.pumpDone != nil {
			select {
			case <-c.pumpDone:
			case <-time.After(writeTimeout):
			}
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// ClientRegistry tracks connected visitors by connection ID.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers c. A second client with the same ConnID is rejected.
func (r *ClientRegistry) Add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.ConnID]; exists {
		return fmt.Errorf("connection %s already registered", c.ConnID)
	}
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("visitors", len(r.clients)).Msg("visitor connected")
	return nil
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	delete(r.clients, connID)
	r.log.Info().
		Str("connId", connID).
		Dur("connected", time.Since(c.ConnectedAt)).
		Int("visitors", len(r.clients)).
		Msg("visitor disconnected")
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CountByAgent returns the number of bound visitors per agent.
func (r *ClientRegistry) CountByAgent() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range r.clients {
		if c.Session != nil {
			out[c.Session.AgentID()]++
		}
	}
	return out
}

// CloseAll empties the registry and closes every client in parallel.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	clear(r.clients)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
}
