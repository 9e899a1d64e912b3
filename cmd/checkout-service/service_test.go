package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solcheckout/pkg/anchor"
	"solcheckout/pkg/checkout"
	"solcheckout/pkg/config"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/socket"
	"solcheckout/pkg/sol"
	"solcheckout/pkg/swapdata"
	"solcheckout/pkg/wallet"
)

var (
	swapProgram = solana.NewWallet().PublicKey()
	fixedSwap   = solana.NewWallet().PublicKey()
	oracleSwap  = solana.NewWallet().PublicKey()
	usdcMint    = solana.NewWallet().PublicKey()
	testOrderID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
)

type chainStub struct {
	accounts map[solana.PublicKey]*sol.Account
	fetches  int
	lamports uint64
	sent     []*solana.Transaction
}

func (c *chainStub) GetAccount(_ context.Context, address solana.PublicKey) (*sol.Account, error) {
	c.fetches++
	acc, ok := c.accounts[address]
	if !ok {
		return nil, sol.ErrAccountNotFound
	}
	return acc, nil
}

func (c *chainStub) GetLamports(context.Context, solana.PublicKey) (uint64, error) {
	return c.lamports, nil
}

func (c *chainStub) GetTokenBalance(_ context.Context, mint, _ solana.PublicKey) (math.Int, error) {
	if mint.Equals(usdcMint) {
		return math.NewInt(2_500_000), nil
	}
	return math.ZeroInt(), nil
}

func (c *chainStub) HasTokenAccount(context.Context, solana.PublicKey) (bool, error) {
	return true, nil
}

func (c *chainStub) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1, 2, 3}, nil
}

func (c *chainStub) SendTransaction(_ context.Context, tx *solana.Transaction, _ bool) (solana.Signature, error) {
	c.sent = append(c.sent, tx)
	return tx.Signatures[0], nil
}

func (c *chainStub) WaitForConfirmation(context.Context, solana.Signature) error {
	return nil
}

func swapAccount(t *testing.T, tok swapdata.SwapTokenData) *sol.Account {
	t.Helper()
	data, err := anchor.EncodeAccount(swapdata.AccountType, swapdata.SwapData{Active: true, InbTokenData: tok})
	require.NoError(t, err)
	return &sol.Account{Owner: swapProgram, Data: data}
}

func testConfig() config.Config {
	return config.Config{
		NetData: config.NetData{Program: map[string]string{
			config.ProgramSwapContract: swapProgram.String(),
			config.ProgramNetAuthority: solana.NewWallet().PublicKey().String(),
			config.ProgramTokenAgent:   solana.NewWallet().PublicKey().String(),
		}},
		OrderData: config.OrderData{
			OrderID:          testOrderID,
			TokenMint:        usdcMint.String(),
			MerchantWallet:   solana.NewWallet().PublicKey().String(),
			MerchantApproval: solana.NewWallet().PublicKey().String(),
			FeesAccount:      solana.NewWallet().PublicKey().String(),
		},
		SwapData: map[string]config.SwapSpec{
			"usdc-sol":   {SwapDirection: true, SwapData: fixedSwap.String(), FromToken: "SOL", ToToken: "USDC"},
			"usdc-sol-o": {SwapDirection: true, SwapData: oracleSwap.String(), FromToken: "SOL", ToToken: "USDC", OracleTrack: "sol-usd"},
		},
		Tokens: map[string]config.TokenSpec{
			"sol":  {Mint: solana.SolMint.String(), Decimals: 9, ViewDecimals: 4},
			"usdc": {Mint: usdcMint.String(), Decimals: 6, ViewDecimals: 2},
		},
	}
}

func newTestServer(t *testing.T, payer wallet.Adapter) (*server, *chainStub) {
	t.Helper()
	chain := &chainStub{
		lamports: 1_500_000_000,
		accounts: map[solana.PublicKey]*sol.Account{
			fixedSwap:  swapAccount(t, swapdata.SwapTokenData{RateSwap: 1000, RateBase: 150, FeesBps: 30}),
			oracleSwap: swapAccount(t, swapdata.SwapTokenData{OracleRates: true, FeesBps: 0}),
		},
	}

	store := config.NewStaticStore(testConfig())
	registry := anchor.NewRegistry(store.Config().NetData.Program)
	swaps := swapdata.NewCache(chain, func() (solana.PublicKey, error) {
		return registry.LoadProgram(config.ProgramSwapContract)
	})
	engine := quote.NewEngine(swaps)

	s := &server{
		store:       store,
		quotes:      NewQuoteCache(context.Background(), store, swaps, engine, nil, time.Minute),
		swaps:       swaps,
		balances:    chain,
		socketState: socket.NewStore(),
		startTime:   time.Now(),
	}
	s.quotes.Watch(WatchedPairs(store.Config()))
	if payer != nil {
		s.payer = payer
		s.checkout = checkout.New(chain, payer, store, nil).
			WithOrderGuard(checkout.NewOrderGuard(1000, 1e-6))
	}
	return s, chain
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleQuote(t *testing.T) {
	s, chain := newTestServer(t, nil)
	h := s.routes()

	rec := get(t, h, "/quote?swap=USDC-SOL&amount=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q CachedQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "149550000", q.Amount)
	assert.Equal(t, "149.55", q.ViewAmount)
	assert.Equal(t, "1000000000", q.FromAmountTokens)
	assert.Equal(t, "SOL", q.From)
	assert.Equal(t, fixedSwap.String(), q.SwapData)

	// second call is served from the quote cache
	rec = get(t, h, "/quote?swap=usdc-sol&amount=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, chain.fetches)
	assert.Len(t, s.quotes.GetAllCached(), 1)

	rec = get(t, h, "/quote?swap=usdc-sol&amount=150&order=buy")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "1.0030", q.ViewAmount)
	assert.Len(t, s.quotes.GetAllCached(), 1)
}

func TestAdHocQuoteFollowsSwapData(t *testing.T) {
	s, chain := newTestServer(t, nil)
	h := s.routes()
	ctx := context.Background()

	quoteView := func(target string) string {
		t.Helper()
		rec := get(t, h, target)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var q CachedQuote
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
		return q.ViewAmount
	}

	assert.Equal(t, "299.10", quoteView("/quote?swap=usdc-sol&amount=2"))
	assert.Equal(t, "149.55", quoteView("/quote?swap=usdc-sol&amount=1"))

	chain.accounts[fixedSwap] = swapAccount(t, swapdata.SwapTokenData{RateSwap: 1000, RateBase: 200, FeesBps: 30})
	assert.Equal(t, 1, s.swaps.Refresh(ctx, -time.Second))
	s.quotes.RefreshAll(ctx, WatchedPairs(s.store.Config()))

	assert.Equal(t, "398.80", quoteView("/quote?swap=usdc-sol&amount=2"))
	assert.Equal(t, "199.40", quoteView("/quote?swap=usdc-sol&amount=1"))
}

func TestAdHocQuotesAreNotStored(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.routes()

	for i := 2; i < 50; i++ {
		rec := get(t, h, fmt.Sprintf("/quote?swap=usdc-sol&amount=%d", i))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, s.quotes.GetAllCached())

	s.quotes.mu.RLock()
	assert.Empty(t, s.quotes.swapToQuotes[fixedSwap])
	s.quotes.mu.RUnlock()

	// dropping a pair from the watched set evicts its quote
	rec := get(t, h, "/quote?swap=usdc-sol&amount=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, s.quotes.GetAllCached(), 1)
	s.quotes.Watch(nil)
	assert.Empty(t, s.quotes.GetAllCached())
}

func TestHandleQuoteErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.routes()

	tests := []struct {
		target string
		status int
	}{
		{"/quote?amount=1", http.StatusBadRequest},
		{"/quote?swap=usdc-sol&amount=1&order=hold", http.StatusBadRequest},
		{"/quote?swap=usdc-sol&amount=abc", http.StatusBadRequest},
		{"/quote?swap=btc-sol&amount=1", http.StatusNotFound},
		{"/quote?swap=usdc-sol-o&amount=1", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := get(t, h, tt.target)
		assert.Equal(t, tt.status, rec.Code, tt.target)
		var e QuoteError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
		assert.NotEmpty(t, e.Error)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quote", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOracleQuoteRecalculates(t *testing.T) {
	s, _ := newTestServer(t, nil)
	s.quotes.SetOracleQuote("sol-usd", decimal.RequireFromString("150"))

	pair := QuotePair{SwapKey: "usdc-sol-o", Amount: "1", OrderType: quote.Sell, Label: "oracle"}
	q, err := s.quotes.GetOrCalculateQuote(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "150.00", q.ViewAmount)
	assert.Equal(t, "150", q.OracleQuote)

	s.quotes.SetOracleQuote("sol-usd", decimal.RequireFromString("160.5"))
	q, ok := s.quotes.GetQuote(pair)
	require.True(t, ok)
	assert.Equal(t, "160.50", q.ViewAmount)

	s.quotes.Clear()
	assert.Empty(t, s.quotes.GetAllCached())
}

func TestWatchedPairs(t *testing.T) {
	pairs := WatchedPairs(testConfig())
	require.Len(t, pairs, 2)
	for _, p := range pairs {
		assert.Equal(t, "1", p.Amount)
		assert.Equal(t, quote.Sell, p.OrderType)
	}
}

func TestHandleCheckout(t *testing.T) {
	key, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	s, chain := newTestServer(t, wallet.NewKeyAdapter("Test", key))
	h := s.routes()

	body, _ := json.Marshal(checkout.Params{TokensTotal: 2_000_000})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res checkout.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, checkout.ResultOK, res.Result)
	assert.Equal(t, testOrderID, res.UUID)
	require.Len(t, chain.sent, 1)
	assert.Equal(t, checkout.EncodeSignature(chain.sent[0].Signatures[0]), res.TransactionSig)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{"swapKey":"nope","tokensTotal":1}`))))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, checkout.ResultError, res.Result)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCheckoutOrders(t *testing.T) {
	key, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	s, chain := newTestServer(t, wallet.NewKeyAdapter("Test", key))
	h := s.routes()

	pay := func(order config.OrderData) (*httptest.ResponseRecorder, checkout.Result) {
		t.Helper()
		body, err := json.Marshal(checkout.Params{TokensTotal: 1_000_000, Order: &order})
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body)))
		var res checkout.Result
		if rec.Code != http.StatusBadRequest {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		}
		return rec, res
	}

	first := testConfig().OrderData
	first.OrderID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	second := first
	second.OrderID = "6ba7b811-9dad-11d1-80b4-00c04fd430c8"

	rec, res := pay(first)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, first.OrderID, res.UUID)
	assert.Equal(t, first.OrderID, s.store.Config().OrderData.OrderID)

	rec, res = pay(second)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, second.OrderID, res.UUID)
	assert.Len(t, chain.sent, 2)

	// a paid order is refused
	rec, res = pay(first)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, res.Error, "order already submitted")

	bad := second
	bad.MerchantWallet = "not-a-key"
	rec, _ = pay(bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "order_data.merchant_wallet")
	assert.Equal(t, second.OrderID, s.store.Config().OrderData.OrderID)
	assert.Len(t, chain.sent, 2)
}

func TestHandleCheckoutWithoutWallet(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, s.routes(), "/checkout")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleBalance(t *testing.T) {
	s, _ := newTestServer(t, nil)
	owner := solana.NewWallet().PublicKey()

	rec := get(t, s.routes(), "/balance?address="+owner.String()+"&tokens=usdc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, owner.String(), b.Wallet)
	assert.Equal(t, "1.5000", b.SOL)
	require.Len(t, b.Tokens, 1)
	assert.Equal(t, "2.50", b.Tokens[0].View)

	assert.Equal(t, http.StatusBadRequest, get(t, s.routes(), "/balance").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s.routes(), "/balance?address=nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s.routes(), "/balance?address="+owner.String()+"&tokens=eth").Code)
}

func TestHandleHealthAndWallets(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.routes()

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.False(t, health.Socket.IsConnected)

	s.socketState.OnReconnectError()
	rec = get(t, h, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)

	rec = get(t, h, "/wallets")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []WalletInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	assert.Len(t, infos, 3)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/quote", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
}
