package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"solcheckout/pkg/config"
)

// Handler processes a message whose "mutation" field names it.
type Handler func(payload json.RawMessage) error

// Client is a JSON websocket connected on demand and reconnected a bounded
// number of times, committing every event to a Store.
type Client struct {
	url          string
	store        *Store
	reconnection bool
	attempts     int
	delay        time.Duration
	dialer       *websocket.Dialer

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers map[string]Handler
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

// NewClient builds a client from socket settings. Nothing is dialed until Connect.
func NewClient(cfg config.SocketConfig, store *Store) *Client {
	return &Client{
		url:          cfg.URL,
		store:        store,
		reconnection: cfg.Reconnection,
		attempts:     cfg.ReconnectionAttempts,
		delay:        cfg.ReconnectionDelay,
		dialer:       websocket.DefaultDialer,
		handlers:     make(map[string]Handler),
	}
}

// Handle routes messages with {"mutation": name} to h.
func (c *Client) Handle(name string, h Handler) {
	c.mu.Lock()
	c.handlers[name] = h
	c.mu.Unlock()
}

// Connect dials the socket and starts reading until ctx ends or Close is called.
// A client that stopped, after Close or exhausted reconnection, may connect again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("socket already connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	if err := c.dial(runCtx); err != nil {
		c.stopped(done)
		return err
	}

	go c.run(runCtx, done)
	return nil
}

// stopped releases the run started with done, unless Close already did.
func (c *Client) stopped(done chan struct{}) {
	c.mu.Lock()
	if c.done == done && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	close(done)
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	// Close cancels under c.mu, so a dial finishing after Close is dropped here.
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		conn.Close()
		return err
	}
	c.conn = conn
	c.mu.Unlock()

	c.store.OnOpen(c)
	log.Info().Str("url", c.url).Msg("socket connected")
	return nil
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer c.stopped(done)

	for {
		c.read(ctx)
		c.store.OnClose()

		if ctx.Err() != nil || !c.reconnection {
			return
		}
		if !c.reconnect(ctx) {
			if ctx.Err() == nil {
				c.store.OnReconnectError()
			}
			return
		}
	}
}

// read consumes messages until the connection fails.
func (c *Client) read(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.store.OnError(err)
			}
			conn.Close()
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.delay):
		}

		c.store.OnReconnect(attempt)
		if err := c.dial(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("socket reconnect failed")
			continue
		}
		return true
	}
	return false
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		Mutation string `json:"mutation"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Mutation != "" {
		c.mu.RLock()
		h, ok := c.handlers[envelope.Mutation]
		c.mu.RUnlock()
		if ok {
			if err := h(data); err != nil {
				log.Warn().Err(err).Str("mutation", envelope.Mutation).Msg("socket handler failed")
			}
			return
		}
	}

	var message interface{}
	if err := json.Unmarshal(data, &message); err != nil {
		c.store.OnError(fmt.Errorf("invalid socket message: %w", err))
		return
	}
	c.store.OnMessage(message)
}

// WriteJSON sends v on the live connection.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	if cancel == nil {
		c.mu.Unlock()
		return nil
	}
	cancel()
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}

// Done is closed once the client stopped for good.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}
