package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"solcheckout/pkg/swapdata"
)

// SwapDataUpdateHandler is called after a swap data account update reached the cache.
type SwapDataUpdateHandler func(address solana.PublicKey, data swapdata.SwapData, slot uint64)

// SubscriptionManager keeps swap data accounts in the cache current through
// account notifications.
type SubscriptionManager struct {
	wsClient      *WebSocketClient
	cache         *swapdata.Cache
	subscriptions map[solana.PublicKey]uint64 // account -> subscription id
	handlers      []SwapDataUpdateHandler
	mu            sync.RWMutex
	subMu         sync.Mutex // serializes subscribe and unsubscribe across the network call
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewSubscriptionManager connects to wsURL and feeds updates into cache.
func NewSubscriptionManager(ctx context.Context, wsURL string, cache *swapdata.Cache, opts ...Option) (*SubscriptionManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	wsClient, err := NewWebSocketClient(managerCtx, wsURL, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	return &SubscriptionManager{
		wsClient:      wsClient,
		cache:         cache,
		subscriptions: make(map[solana.PublicKey]uint64),
		ctx:           managerCtx,
		cancel:        cancel,
	}, nil
}

// SubscribeSwapData subscribes address. Subscribing twice is a no-op.
func (sm *SubscriptionManager) SubscribeSwapData(address solana.PublicKey) error {
	sm.subMu.Lock()
	defer sm.subMu.Unlock()

	sm.mu.RLock()
	_, exists := sm.subscriptions[address]
	sm.mu.RUnlock()
	if exists {
		return nil
	}

	subID, err := sm.wsClient.SubscribeAccount(address, func(update AccountUpdate) {
		sm.handleAccountUpdate(update)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe swap data %s: %w", address, err)
	}

	sm.mu.Lock()
	sm.subscriptions[address] = subID
	sm.mu.Unlock()

	log.Info().Str("address", address.String()).Uint64("sub_id", subID).Msg("subscribed swap data")
	return nil
}

// UnsubscribeSwapData drops the subscription for address and its cache entry.
func (sm *SubscriptionManager) UnsubscribeSwapData(address solana.PublicKey) error {
	sm.subMu.Lock()
	defer sm.subMu.Unlock()

	sm.mu.Lock()
	subID, exists := sm.subscriptions[address]
	delete(sm.subscriptions, address)
	sm.mu.Unlock()
	if !exists {
		return nil
	}

	sm.cache.Invalidate(address)
	return sm.wsClient.Unsubscribe(subID)
}

func (sm *SubscriptionManager) handleAccountUpdate(update AccountUpdate) {
	address, slot := update.Account, update.Slot
	if err := sm.cache.ApplyAccountUpdate(address, update.Data, slot); err != nil {
		log.Warn().Err(err).Msg("failed to apply swap data update")
		return
	}

	entry, ok := sm.cache.Entry(address)
	if !ok {
		return
	}

	sm.mu.RLock()
	handlers := sm.handlers
	sm.mu.RUnlock()
	for _, handler := range handlers {
		handler(address, entry.Data, slot)
	}
}

// RegisterHandler adds a listener for applied updates.
func (sm *SubscriptionManager) RegisterHandler(handler SwapDataUpdateHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

func (sm *SubscriptionManager) IsConnected() bool {
	return sm.wsClient.IsConnected()
}

// Close unsubscribes everything and closes the websocket.
func (sm *SubscriptionManager) Close() error {
	sm.mu.RLock()
	addresses := make([]solana.PublicKey, 0, len(sm.subscriptions))
	for address := range sm.subscriptions {
		addresses = append(addresses, address)
	}
	sm.mu.RUnlock()

	for _, address := range addresses {
		if err := sm.UnsubscribeSwapData(address); err != nil {
			log.Debug().Err(err).Str("address", address.String()).Msg("unsubscribe on close")
		}
	}

	sm.cancel()
	return sm.wsClient.Close()
}

// Stats returns subscription statistics.
func (sm *SubscriptionManager) Stats() map[string]interface{} {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return map[string]interface{}{
		"subscriptions":  len(sm.subscriptions),
		"cachedSwapData": sm.cache.Size(),
		"connected":      sm.wsClient.IsConnected(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
}
