package swapdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"solcheckout/pkg/anchor"
	"solcheckout/pkg/metrics"
)

// Entry is a cached swap data record with freshness metadata.
type Entry struct {
	Data       SwapData
	LastUpdate time.Time
	LastSlot   uint64
}

// Cache keeps decoded SwapData accounts by address. Misses are fetched from
// chain once, concurrent misses for the same address share one fetch.
type Cache struct {
	fetcher anchor.AccountFetcher
	program func() (solana.PublicKey, error)

	mu      sync.RWMutex
	entries map[solana.PublicKey]*Entry
	group   singleflight.Group
}

// NewCache creates a cache reading accounts owned by the program program returns.
func NewCache(fetcher anchor.AccountFetcher, program func() (solana.PublicKey, error)) *Cache {
	return &Cache{
		fetcher: fetcher,
		program: program,
		entries: make(map[solana.PublicKey]*Entry),
	}
}

// fetchTimeout bounds a shared fetch, which runs detached from any one caller.
const fetchTimeout = 30 * time.Second

// Get returns the swap data at address, fetching it on a miss. A caller giving
// up does not fail the other callers waiting on the same fetch.
func (c *Cache) Get(ctx context.Context, address solana.PublicKey) (SwapData, error) {
	c.mu.RLock()
	entry, ok := c.entries[address]
	c.mu.RUnlock()
	if ok {
		metrics.RecordSwapDataLookup("hit")
		return entry.Data, nil
	}
	metrics.RecordSwapDataLookup("miss")

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(address.String(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(fetchCtx, fetchTimeout)
		defer cancel()

		sd, slot, err := c.fetch(ctx, address)
		if err != nil {
			return nil, err
		}
		c.Set(address, sd, slot)
		if entry, ok := c.Entry(address); ok {
			return entry.Data, nil
		}
		return sd, nil
	})

	select {
	case <-ctx.Done():
		return SwapData{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return SwapData{}, res.Err
		}
		return res.Val.(SwapData), nil
	}
}

func (c *Cache) fetch(ctx context.Context, address solana.PublicKey) (SwapData, uint64, error) {
	program, err := c.program()
	if err != nil {
		return SwapData{}, 0, err
	}
	var sd SwapData
	slot, err := anchor.FetchAccountSlot(ctx, c.fetcher, program, AccountType, address, &sd)
	if err != nil {
		return SwapData{}, 0, fmt.Errorf("failed to fetch swap data %s: %w", address, err)
	}
	return sd, slot, nil
}

// Set stores sd for address as read at slot. A write from a slot older than the
// cached one is dropped; slot 0 means unknown and always applies.
func (c *Cache) Set(address solana.PublicKey, sd SwapData, slot uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[address]; exists {
		if slot != 0 && slot < entry.LastSlot {
			return false
		}
		entry.Data = sd
		entry.LastUpdate = time.Now()
		if slot > entry.LastSlot {
			entry.LastSlot = slot
		}
		return true
	}
	c.entries[address] = &Entry{
		Data:       sd,
		LastUpdate: time.Now(),
		LastSlot:   slot,
	}
	return true
}

// ApplyAccountUpdate decodes an account notification and replaces the entry.
// Updates older than the cached slot are ignored.
func (c *Cache) ApplyAccountUpdate(address solana.PublicKey, data []byte, slot uint64) error {
	sd, err := Decode(data)
	if err != nil {
		return fmt.Errorf("swap data update %s: %w", address, err)
	}

	if !c.Set(address, *sd, slot) {
		log.Debug().Str("address", address.String()).Uint64("slot", slot).Msg("ignoring stale swap data update")
		return nil
	}
	metrics.RecordSwapDataLookup("update")
	log.Debug().Str("address", address.String()).Uint64("slot", slot).Msg("swap data updated")
	return nil
}

// Entry returns the full cache entry for address.
func (c *Cache) Entry(address solana.PublicKey) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[address]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Invalidate drops address so the next Get refetches it.
func (c *Cache) Invalidate(address solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, address)
}

// Size returns the number of cached records.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Clear removes every record.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[solana.PublicKey]*Entry)
}

// StaleAddresses returns the addresses not updated within maxAge.
func (c *Cache) StaleAddresses(maxAge time.Duration) []solana.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	stale := make([]solana.PublicKey, 0)
	for address, entry := range c.entries {
		if now.Sub(entry.LastUpdate) > maxAge {
			stale = append(stale, address)
		}
	}
	return stale
}

// Refresh refetches every stale record. Failures keep the old record.
func (c *Cache) Refresh(ctx context.Context, maxAge time.Duration) int {
	refreshed := 0
	if _, err := c.program(); err != nil {
		log.Warn().Err(err).Msg("swap data refresh skipped")
		return 0
	}
	for _, address := range c.StaleAddresses(maxAge) {
		sd, slot, err := c.fetch(ctx, address)
		if err != nil {
			log.Warn().Err(err).Str("address", address.String()).Msg("swap data refresh failed")
			continue
		}
		if c.Set(address, sd, slot) {
			refreshed++
		}
	}
	return refreshed
}
