package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned when a request is sent without a live connection.
var ErrNotConnected = errors.New("websocket not connected")

// DefaultReconnectDelay is the pause between reconnection attempts.
const DefaultReconnectDelay = 5 * time.Second

// AccountUpdate is one decoded accountNotification.
type AccountUpdate struct {
	Account  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
	Slot     uint64
}

// AccountUpdateHandler receives account notifications of one subscription.
type AccountUpdateHandler func(update AccountUpdate)

// accountSubscription is one accountSubscribe request. id doubles as the
// JSON-RPC request id and survives reconnects; nodeID is assigned by the node
// and is 0 until the subscribe is acknowledged.
type accountSubscription struct {
	id      uint64
	account solana.PublicKey
	nodeID  uint64
	handler AccountUpdateHandler
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage covers both responses and notifications from the pubsub node.
type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value *struct {
				Data     solana.Data      `json:"data"`
				Lamports uint64           `json:"lamports"`
				Owner    solana.PublicKey `json:"owner"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// WebSocketClient keeps account subscriptions on a Solana pubsub endpoint and
// replays them after the connection drops.
type WebSocketClient struct {
	url            string
	commitment     string
	reconnectDelay time.Duration

	mu       sync.RWMutex
	conn     *websocket.Conn
	subs     map[uint64]*accountSubscription
	byNodeID map[uint64]*accountSubscription
	nextID   uint64

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a WebSocketClient.
type Option func(*WebSocketClient)

// WithReconnectDelay sets how often a dropped connection is retried.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *WebSocketClient) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithCommitment sets the commitment of account subscriptions.
func WithCommitment(commitment string) Option {
	return func(c *WebSocketClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

func newWebSocketClient(wsURL string, opts ...Option) *WebSocketClient {
	c := &WebSocketClient{
		url:            wsURL,
		commitment:     "confirmed",
		reconnectDelay: DefaultReconnectDelay,
		subs:           make(map[uint64]*accountSubscription),
		byNodeID:       make(map[uint64]*accountSubscription),
		nextID:         1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWebSocketClient dials wsURL and keeps the connection alive until ctx ends or Close.
func NewWebSocketClient(ctx context.Context, wsURL string, opts ...Option) (*WebSocketClient, error) {
	c := newWebSocketClient(wsURL, opts...)
	c.ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.dial()
	if err != nil {
		c.cancel()
		return nil, err
	}
	go c.run(conn)
	return c, nil
}

func (c *WebSocketClient) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return nil, c.ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("account websocket connected")
	return conn, nil
}

// run reads conn until it fails, then redials every reconnectDelay and replays
// the subscriptions on the new connection.
func (c *WebSocketClient) run(conn *websocket.Conn) {
	for {
		c.read(conn)
		if c.ctx.Err() != nil {
			return
		}

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			log.Info().Msg("reconnecting account websocket")
			next, err := c.dial()
			if err != nil {
				log.Warn().Err(err).Msg("account websocket reconnection failed")
				continue
			}
			conn = next
			break
		}
		c.resubscribe()
	}
}

func (c *WebSocketClient) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Warn().Err(err).Msg("account websocket read error")
			}
			conn.Close()
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
		c.handleMessage(data)
	}
}

// resubscribe replays every subscription; node ids are reassigned on acknowledgement.
func (c *WebSocketClient) resubscribe() {
	c.mu.Lock()
	subs := make([]*accountSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		sub.nodeID = 0
		subs = append(subs, sub)
	}
	c.byNodeID = make(map[uint64]*accountSubscription)
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.send(c.subscribeRequest(sub.id, sub.account)); err != nil {
			log.Warn().Err(err).Str("account", sub.account.String()).Msg("failed to resubscribe")
		}
	}
}

func (c *WebSocketClient) subscribeRequest(id uint64, account solana.PublicKey) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []interface{}{
			account.String(),
			map[string]interface{}{
				"encoding":   "base64",
				"commitment": c.commitment,
			},
		},
	}
}

// SubscribeAccount subscribes handler to account and returns the local subscription id.
func (c *WebSocketClient) SubscribeAccount(account solana.PublicKey, handler AccountUpdateHandler) (uint64, error) {
	c.mu.Lock()
	sub := &accountSubscription{id: c.nextID, account: account, handler: handler}
	c.nextID++
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if err := c.send(c.subscribeRequest(sub.id, account)); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return 0, err
	}
	return sub.id, nil
}

// Unsubscribe removes a subscription. The node is told when it had acknowledged it.
func (c *WebSocketClient) Unsubscribe(id uint64) error {
	c.mu.Lock()
	sub, exists := c.subs[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("subscription not found: %d", id)
	}
	delete(c.subs, id)
	if sub.nodeID != 0 {
		delete(c.byNodeID, sub.nodeID)
	}
	nodeID := sub.nodeID
	c.mu.Unlock()

	if nodeID == 0 {
		return nil
	}
	return c.send(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountUnsubscribe",
		Params:  []interface{}{nodeID},
	})
}

func (c *WebSocketClient) send(req rpcRequest) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Msg("failed to parse websocket message")
		return
	}

	switch {
	case msg.Method == "accountNotification" && msg.Params != nil:
		c.handleNotification(&msg)
	case msg.Error != nil:
		log.Warn().Int("code", msg.Error.Code).Msgf("rpc error: %s", msg.Error.Message)
	case msg.ID != nil:
		c.handleAck(*msg.ID, msg.Result)
	}
}

// handleAck records the node id of an acknowledged accountSubscribe.
func (c *WebSocketClient) handleAck(id uint64, result json.RawMessage) {
	var nodeID uint64
	if err := json.Unmarshal(result, &nodeID); err != nil {
		return // accountUnsubscribe acks carry a bool
	}

	c.mu.Lock()
	if sub, exists := c.subs[id]; exists {
		sub.nodeID = nodeID
		c.byNodeID[nodeID] = sub
	}
	c.mu.Unlock()
}

func (c *WebSocketClient) handleNotification(msg *rpcMessage) {
	c.mu.RLock()
	sub, exists := c.byNodeID[msg.Params.Subscription]
	c.mu.RUnlock()
	if !exists || msg.Params.Result.Value == nil {
		return
	}

	value := msg.Params.Result.Value
	sub.handler(AccountUpdate{
		Account:  sub.account,
		Owner:    value.Owner,
		Lamports: value.Lamports,
		Data:     value.Data.Content,
		Slot:     msg.Params.Result.Context.Slot,
	})
}

// Close stops reconnecting and closes the connection.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *WebSocketClient) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
