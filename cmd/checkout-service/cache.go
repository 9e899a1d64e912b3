package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solcheckout/pkg/config"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/subscription"
	"solcheckout/pkg/swapdata"
)

// QuoteCache keeps quotes for watched pairs current. A swap data account update
// or a new oracle quote recalculates the quotes that depend on it. Other pairs
// are priced on request from the swap data cache and never stored.
type QuoteCache struct {
	cache           map[string]*CachedQuote
	watched         map[string]QuotePair
	swapToQuotes    map[solana.PublicKey][]QuotePair // swap data account -> pairs priced from it
	trackToQuotes   map[string][]QuotePair           // oracle track -> pairs priced from it
	mu              sync.RWMutex
	store           *config.Store
	swaps           *swapdata.Cache
	engine          *quote.Engine
	subscriptionMgr *subscription.SubscriptionManager
	refreshInterval time.Duration
	useWebSocket    bool
	ctx             context.Context
}

type QuotePair struct {
	SwapKey   string
	From      string
	To        string
	Amount    string
	OrderType quote.OrderType
	Label     string
}

// NewQuoteCache wires the cache to the swap data cache and quote engine.
// subscriptionMgr may be nil, quotes are then only refreshed periodically.
func NewQuoteCache(ctx context.Context, store *config.Store, swaps *swapdata.Cache, engine *quote.Engine, subscriptionMgr *subscription.SubscriptionManager, refreshInterval time.Duration) *QuoteCache {
	qc := &QuoteCache{
		cache:           make(map[string]*CachedQuote),
		watched:         make(map[string]QuotePair),
		swapToQuotes:    make(map[solana.PublicKey][]QuotePair),
		trackToQuotes:   make(map[string][]QuotePair),
		store:           store,
		swaps:           swaps,
		engine:          engine,
		subscriptionMgr: subscriptionMgr,
		refreshInterval: refreshInterval,
		useWebSocket:    subscriptionMgr != nil,
		ctx:             ctx,
	}
	if subscriptionMgr != nil {
		subscriptionMgr.RegisterHandler(func(address solana.PublicKey, _ swapdata.SwapData, slot uint64) {
			qc.handleSwapDataUpdate(address, slot)
		})
	}
	return qc
}

// WatchedPairs returns a one unit sell quote for every configured swap.
func WatchedPairs(cfg config.Config) []QuotePair {
	pairs := make([]QuotePair, 0, len(cfg.SwapData))
	for key, spec := range cfg.SwapData {
		if spec.FromToken == "" || spec.ToToken == "" {
			continue
		}
		pairs = append(pairs, QuotePair{
			SwapKey:   key,
			Amount:    "1",
			OrderType: quote.Sell,
			Label:     fmt.Sprintf("%s (1 %s)", key, strings.ToUpper(spec.FromToken)),
		})
	}
	return pairs
}

func (qc *QuoteCache) getCacheKey(pair QuotePair) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%s-%s-%s", pair.SwapKey, pair.OrderType, pair.From, pair.To, pair.Amount))
}

func (qc *QuoteCache) GetQuote(pair QuotePair) (*CachedQuote, bool) {
	qc.mu.RLock()
	defer qc.mu.RUnlock()

	q, exists := qc.cache[qc.getCacheKey(pair)]
	return q, exists
}

// Watch replaces the set of pairs kept in the cache. Quotes and dependencies of
// pairs no longer watched are dropped.
func (qc *QuoteCache) Watch(pairs []QuotePair) {
	watched := make(map[string]QuotePair, len(pairs))
	for _, pair := range pairs {
		watched[qc.getCacheKey(pair)] = pair
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.watched = watched
	for key := range qc.cache {
		if _, ok := watched[key]; !ok {
			delete(qc.cache, key)
		}
	}
	for address, deps := range qc.swapToQuotes {
		qc.swapToQuotes[address] = qc.keepWatched(deps)
	}
	for track, deps := range qc.trackToQuotes {
		qc.trackToQuotes[track] = qc.keepWatched(deps)
	}
}

// keepWatched filters pairs down to watched ones. Callers hold qc.mu.
func (qc *QuoteCache) keepWatched(pairs []QuotePair) []QuotePair {
	out := pairs[:0]
	for _, pair := range pairs {
		if _, ok := qc.watched[qc.getCacheKey(pair)]; ok {
			out = append(out, pair)
		}
	}
	return out
}

// GetOrCalculateQuote returns the cached quote of a watched pair, or prices the
// pair from the current swap data.
func (qc *QuoteCache) GetOrCalculateQuote(ctx context.Context, pair QuotePair) (*CachedQuote, error) {
	if q, ok := qc.GetQuote(pair); ok {
		return q, nil
	}
	return qc.UpdateQuote(ctx, pair)
}

// UpdateQuote recalculates pair. Watched pairs are stored and their swap data
// and oracle track dependencies tracked.
func (qc *QuoteCache) UpdateQuote(ctx context.Context, pair QuotePair) (*CachedQuote, error) {
	startTime := time.Now()

	route, err := quote.ResolveRoute(qc.store.Config(), pair.SwapKey, pair.From, pair.To)
	if err != nil {
		return nil, err
	}
	address, err := solana.PublicKeyFromBase58(route.Swap.SwapData)
	if err != nil {
		return nil, fmt.Errorf("invalid swap data address: %w", err)
	}

	res, err := qc.engine.QuoteAmount(ctx, route.To, route.From, route.Swap, pair.Amount, pair.OrderType)
	if err != nil {
		return nil, err
	}

	// swap data addresses come from config, so subscriptions stay bounded
	if qc.useWebSocket {
		if err := qc.subscriptionMgr.SubscribeSwapData(address); err != nil {
			log.Warn().Err(err).Str("swapData", address.String()).Msg("failed to subscribe swap data")
		}
	}

	q := &CachedQuote{
		Swap:             pair.SwapKey,
		OrderType:        string(pair.OrderType),
		From:             route.From.Symbol,
		To:               route.To.Symbol,
		FromAmount:       pair.Amount,
		FromAmountTokens: res.FromAmountTokens.String(),
		Amount:           res.Amount.String(),
		ViewAmount:       res.ViewAmount,
		SwapData:         address.String(),
		OracleTrack:      route.Swap.OracleTrack,
		LastUpdate:       time.Now(),
		TimeTaken:        time.Since(startTime).String(),
	}
	if v, ok := qc.engine.OracleQuote(route.Swap.OracleTrack); ok && route.Swap.OracleTrack != "" {
		q.OracleQuote = v.String()
	}

	key := qc.getCacheKey(pair)
	qc.mu.Lock()
	if _, watched := qc.watched[key]; !watched {
		qc.mu.Unlock()
		return q, nil
	}
	old, hadOld := qc.cache[key]
	qc.cache[key] = q
	qc.swapToQuotes[address] = appendPair(qc.swapToQuotes[address], pair, qc.getCacheKey)
	if route.Swap.OracleTrack != "" {
		qc.trackToQuotes[route.Swap.OracleTrack] = appendPair(qc.trackToQuotes[route.Swap.OracleTrack], pair, qc.getCacheKey)
	}
	qc.mu.Unlock()

	logQuoteChange(pair, old, hadOld, res.Amount, time.Since(startTime))
	return q, nil
}

func appendPair(pairs []QuotePair, pair QuotePair, key func(QuotePair) string) []QuotePair {
	for _, existing := range pairs {
		if key(existing) == key(pair) {
			return pairs
		}
	}
	return append(pairs, pair)
}

func logQuoteChange(pair QuotePair, old *CachedQuote, hadOld bool, amount math.Int, took time.Duration) {
	ev := log.Debug().Str("quote", pair.Label).Str("amount", amount.String()).Dur("took", took)
	if hadOld {
		if oldAmount, ok := math.NewIntFromString(old.Amount); ok && !oldAmount.IsZero() {
			diff := amount.Sub(oldAmount)
			// basis points of the previous amount
			ev = ev.Str("previous", oldAmount.String()).Int64("changeBps", diff.Mul(math.NewInt(10000)).Quo(oldAmount).Int64())
		}
	}
	ev.Msg("quote updated")
}

// SetOracleQuote feeds the engine and recalculates the quotes priced from track.
func (qc *QuoteCache) SetOracleQuote(track string, value decimal.Decimal) {
	qc.engine.SetOracleQuote(track, value)

	qc.mu.RLock()
	pairs := append([]QuotePair(nil), qc.trackToQuotes[track]...)
	qc.mu.RUnlock()

	for _, pair := range pairs {
		if _, err := qc.UpdateQuote(qc.ctx, pair); err != nil {
			log.Warn().Err(err).Str("quote", pair.Label).Msg("failed to recalculate quote")
		}
	}
}

// handleSwapDataUpdate is called after the subscription pushed a new swap data account.
func (qc *QuoteCache) handleSwapDataUpdate(address solana.PublicKey, slot uint64) {
	qc.mu.RLock()
	pairs := append([]QuotePair(nil), qc.swapToQuotes[address]...)
	qc.mu.RUnlock()

	if len(pairs) == 0 {
		return
	}

	log.Debug().Str("swapData", address.String()).Uint64("slot", slot).Int("quotes", len(pairs)).Msg("swap data updated, recalculating")
	for _, pair := range pairs {
		if _, err := qc.UpdateQuote(qc.ctx, pair); err != nil {
			log.Warn().Err(err).Str("quote", pair.Label).Msg("failed to recalculate quote")
		}
	}
}

// RefreshAll makes pairs the watched set and recalculates every one of them.
func (qc *QuoteCache) RefreshAll(ctx context.Context, pairs []QuotePair) {
	qc.Watch(pairs)

	qc.mu.RLock()
	watched := make([]QuotePair, 0, len(qc.watched))
	for _, pair := range qc.watched {
		watched = append(watched, pair)
	}
	qc.mu.RUnlock()

	for _, pair := range watched {
		if _, err := qc.UpdateQuote(ctx, pair); err != nil {
			log.Warn().Err(err).Str("quote", pair.Label).Msg("failed to update quote")
		}
	}
}

// StartPeriodicRefresh re-reads stale swap data and recalculates the watched
// pairs. With the websocket up it only runs as a slow fallback.
func (qc *QuoteCache) StartPeriodicRefresh(ctx context.Context, pairs func() []QuotePair) {
	qc.RefreshAll(ctx, pairs())

	interval := qc.refreshInterval
	if qc.useWebSocket {
		interval = qc.refreshInterval * 10
	}
	log.Info().Dur("interval", interval).Bool("websocket", qc.useWebSocket).Msg("starting periodic refresh")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping periodic refresh")
			return
		case <-ticker.C:
			refreshed := qc.swaps.Refresh(ctx, interval)
			qc.RefreshAll(ctx, pairs())
			log.Debug().Int("swapData", refreshed).Msg("periodic refresh complete")
		}
	}
}

// Clear drops every cached quote, used after a config reload. The watched set
// is kept until the next RefreshAll replaces it.
func (qc *QuoteCache) Clear() {
	qc.mu.Lock()
	qc.cache = make(map[string]*CachedQuote)
	qc.swapToQuotes = make(map[solana.PublicKey][]QuotePair)
	qc.trackToQuotes = make(map[string][]QuotePair)
	qc.mu.Unlock()
}

func (qc *QuoteCache) GetAllCached() map[string]*CachedQuote {
	qc.mu.RLock()
	defer qc.mu.RUnlock()

	result := make(map[string]*CachedQuote, len(qc.cache))
	for k, v := range qc.cache {
		result[k] = v
	}
	return result
}
