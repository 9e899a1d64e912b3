package swapdata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solcheckout/pkg/sol"
)

var swapProgram = solana.NewWallet().PublicKey()

type countingFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*sol.Account
	calls    int32
	delay    time.Duration
}

func (f *countingFetcher) GetAccount(ctx context.Context, account solana.PublicKey) (*sol.Account, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[account]
	if !ok {
		return nil, sol.ErrAccountNotFound
	}
	return acc, nil
}

func sampleSwapData() SwapData {
	return SwapData{
		Active: true,
		SwapID: 0,
		InbTokenData: SwapTokenData{
			Mint:     solana.SolMint,
			Decimals: 9,
			RateSwap: 100,
			RateBase: 1,
			FeesBps:  30,
		},
		OutTokenData: SwapTokenData{
			Mint:        solana.NewWallet().PublicKey(),
			Decimals:    6,
			RateSwap:    1,
			RateBase:    100,
			OracleRates: true,
			OracleMax:   true,
			FeesBps:     25,
		},
		FeesInbound: true,
		FeesToken:   solana.NewWallet().PublicKey(),
	}
}

func program() (solana.PublicKey, error) { return swapProgram, nil }

func TestEncodeDecode(t *testing.T) {
	want := sampleSwapData()
	data, err := Encode(&want)
	require.NoError(t, err)

	// discriminator + 3 flag/id bytes + 2 token sides + bool + 2 keys
	tokenSize := 32 + 1 + 8 + 8 + 3 + 4 + 8 + 8
	assert.Len(t, data, 8+1+1+2+2*tokenSize+1+32+32)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.False(t, got.HasOracle())
	assert.Equal(t, want.InbTokenData, got.Side(true))
	assert.Equal(t, want.OutTokenData, got.Side(false))

	_, err = Decode(data[:20])
	assert.Error(t, err)
}

func TestOracleCap(t *testing.T) {
	tok := SwapTokenData{RateSwap: 150_000_000}
	assert.Equal(t, "1.5", tok.OracleCap().String())
}

func TestCacheGet(t *testing.T) {
	sd := sampleSwapData()
	data, err := Encode(&sd)
	require.NoError(t, err)

	address := solana.NewWallet().PublicKey()
	fetcher := &countingFetcher{
		accounts: map[solana.PublicKey]*sol.Account{address: {Owner: swapProgram, Data: data}},
		delay:    20 * time.Millisecond,
	}
	cache := NewCache(fetcher, program)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Get(ctx, address)
			assert.NoError(t, err)
			assert.Equal(t, sd, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
	assert.Equal(t, 1, cache.Size())

	_, err = cache.Get(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))

	cache.Invalidate(address)
	assert.Equal(t, 0, cache.Size())
	_, err = cache.Get(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))

	_, err = cache.Get(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, sol.ErrAccountNotFound)
}

func TestCacheGetCancelledCaller(t *testing.T) {
	sd := sampleSwapData()
	data, err := Encode(&sd)
	require.NoError(t, err)

	address := solana.NewWallet().PublicKey()
	fetcher := &countingFetcher{
		accounts: map[solana.PublicKey]*sol.Account{address: {Owner: swapProgram, Data: data}},
		delay:    50 * time.Millisecond,
	}
	cache := NewCache(fetcher, program)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := cache.Get(ctx, address)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		got, err := cache.Get(context.Background(), address)
		assert.NoError(t, err)
		assert.Equal(t, sd, got)
	}()
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
	assert.Equal(t, 1, cache.Size())
}

func TestCacheFetchKeepsNewerUpdate(t *testing.T) {
	sd := sampleSwapData()
	data, err := Encode(&sd)
	require.NoError(t, err)

	address := solana.NewWallet().PublicKey()
	fetcher := &countingFetcher{
		accounts: map[solana.PublicKey]*sol.Account{address: {Owner: swapProgram, Data: data, Slot: 50}},
	}
	cache := NewCache(fetcher, program)

	newer := sd
	newer.InbTokenData.RateSwap = 777
	cache.Set(address, newer, 60)

	// a refresh read at slot 50 must not replace data from slot 60
	assert.Equal(t, 0, cache.Refresh(context.Background(), -time.Second))
	entry, _ := cache.Entry(address)
	assert.Equal(t, uint64(777), entry.Data.InbTokenData.RateSwap)
	assert.Equal(t, uint64(60), entry.LastSlot)

	assert.False(t, cache.Set(address, sd, 59))
	assert.True(t, cache.Set(address, sd, 0))
	entry, _ = cache.Entry(address)
	assert.Equal(t, uint64(60), entry.LastSlot)
}

func TestCacheApplyAccountUpdate(t *testing.T) {
	cache := NewCache(&countingFetcher{}, program)
	address := solana.NewWallet().PublicKey()

	sd := sampleSwapData()
	data, err := Encode(&sd)
	require.NoError(t, err)
	require.NoError(t, cache.ApplyAccountUpdate(address, data, 100))

	entry, ok := cache.Entry(address)
	require.True(t, ok)
	assert.Equal(t, uint64(100), entry.LastSlot)
	assert.Equal(t, uint64(100), entry.Data.InbTokenData.RateSwap)

	newer := sd
	newer.InbTokenData.RateSwap = 120
	data, err = Encode(&newer)
	require.NoError(t, err)

	// older slot is dropped
	require.NoError(t, cache.ApplyAccountUpdate(address, data, 90))
	entry, _ = cache.Entry(address)
	assert.Equal(t, uint64(100), entry.Data.InbTokenData.RateSwap)

	require.NoError(t, cache.ApplyAccountUpdate(address, data, 101))
	entry, _ = cache.Entry(address)
	assert.Equal(t, uint64(120), entry.Data.InbTokenData.RateSwap)

	assert.Error(t, cache.ApplyAccountUpdate(address, []byte{1, 2}, 102))
}

func TestCacheRefresh(t *testing.T) {
	sd := sampleSwapData()
	data, err := Encode(&sd)
	require.NoError(t, err)

	address := solana.NewWallet().PublicKey()
	missing := solana.NewWallet().PublicKey()
	fetcher := &countingFetcher{
		accounts: map[solana.PublicKey]*sol.Account{address: {Owner: swapProgram, Data: data}},
	}
	cache := NewCache(fetcher, program)

	old := sd
	old.Active = false
	cache.Set(address, old, 0)
	cache.Set(missing, old, 0)

	assert.Empty(t, cache.StaleAddresses(time.Hour))
	assert.Len(t, cache.StaleAddresses(-time.Second), 2)

	assert.Equal(t, 1, cache.Refresh(context.Background(), -time.Second))
	entry, _ := cache.Entry(address)
	assert.True(t, entry.Data.Active)
	entry, _ = cache.Entry(missing)
	assert.False(t, entry.Data.Active)

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}
