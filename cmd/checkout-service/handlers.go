package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"solcheckout/pkg/checkout"
	"solcheckout/pkg/config"
	"solcheckout/pkg/metrics"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/socket"
	"solcheckout/pkg/subscription"
	"solcheckout/pkg/swapdata"
	"solcheckout/pkg/wallet"
)

// balanceReader is the part of *sol.Client the balance endpoint needs.
type balanceReader interface {
	GetLamports(ctx context.Context, wallet solana.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, mint, wallet solana.PublicKey) (math.Int, error)
}

type server struct {
	store       *config.Store
	quotes      *QuoteCache
	swaps       *swapdata.Cache
	balances    balanceReader
	checkout    *checkout.Checkout
	payer       wallet.Adapter
	socketState *socket.Store
	subs        *subscription.SubscriptionManager
	startTime   time.Time
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", s.handleQuote)
	mux.HandleFunc("/checkout", s.handleCheckout)
	mux.HandleFunc("/wallets", s.handleWallets)
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(mux)
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	allQuotes := s.quotes.GetAllCached()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":      "Merchant Checkout Service",
		"status":       "running",
		"cachedQuotes": len(allQuotes),
		"quotes":       allQuotes,
		"endpoints": map[string]string{
			"quote":    "/quote?swap=<key>&amount=<amount>&order=<sell|buy>&from=<symbol>&to=<symbol>",
			"checkout": "POST /checkout",
			"wallets":  "/wallets",
			"balance":  "/balance?address=<pubkey>&tokens=<comma-separated>",
			"health":   "/health",
			"metrics":  "/metrics",
		},
	})
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	orderType, err := quote.ParseOrderType(q.Get("order"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	pair := QuotePair{
		SwapKey:   q.Get("swap"),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Amount:    q.Get("amount"),
		OrderType: orderType,
	}
	if pair.SwapKey == "" {
		writeError(w, "Missing required parameter: swap", http.StatusBadRequest)
		return
	}
	pair.Label = fmt.Sprintf("%s %s %s", pair.SwapKey, pair.OrderType, pair.Amount)

	cached, err := s.quotes.GetOrCalculateQuote(r.Context(), pair)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to calculate quote: %v", err), quoteErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func quoteErrorStatus(err error) int {
	switch {
	case errors.Is(err, quote.ErrInvalidAmount), errors.Is(err, quote.ErrUnknownOrderType):
		return http.StatusBadRequest
	case errors.Is(err, quote.ErrUnknownRoute):
		return http.StatusNotFound
	case errors.Is(err, quote.ErrNoOracleQuote):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.checkout == nil {
		writeError(w, "No wallet installed", http.StatusServiceUnavailable)
		return
	}

	var params checkout.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if params.SwapKey != "" {
		params.Swap = true
	}
	if params.Order != nil {
		if err := s.store.UpdateOrderData(*params.Order); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res := s.checkout.MerchantCheckout(r.Context(), params)
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *server) handleWallets(w http.ResponseWriter, r *http.Request) {
	adapters := wallet.GetWalletAdapters(s.store.Config().Wallet)
	if r.URL.Query().Get("installed") == "true" {
		adapters = wallet.FilterInstalled(adapters)
	}

	infos := make([]WalletInfo, 0, len(adapters))
	for _, adp := range adapters {
		info := WalletInfo{Name: adp.Name(), ReadyState: string(adp.ReadyState())}
		if pk := adp.PublicKey(); !pk.IsZero() {
			info.PublicKey = pk.String()
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var owner solana.PublicKey
	if address := r.URL.Query().Get("address"); address != "" {
		pk, err := solana.PublicKeyFromBase58(address)
		if err != nil {
			writeError(w, fmt.Sprintf("Invalid address: %v", err), http.StatusBadRequest)
			return
		}
		owner = pk
	} else if s.payer != nil {
		owner = s.payer.PublicKey()
	} else {
		writeError(w, "Missing address and no wallet installed", http.StatusBadRequest)
		return
	}

	cfg := s.store.Config()
	var symbols []string
	if tokens := r.URL.Query().Get("tokens"); tokens != "" {
		symbols = strings.Split(tokens, ",")
	} else {
		for symbol := range cfg.Tokens {
			symbols = append(symbols, symbol)
		}
	}

	lamports, err := s.balances.GetLamports(r.Context(), owner)
	if err != nil {
		log.Warn().Err(err).Str("wallet", owner.String()).Msg("SOL balance unavailable")
	}

	resp := BalanceResponse{
		Wallet:   owner.String(),
		Lamports: lamports,
		SOL:      quote.ViewTokens(config.TokenSpec{Decimals: 9, ViewDecimals: 4}, math.NewIntFromUint64(lamports)),
		Tokens:   make([]TokenBalance, 0, len(symbols)),
	}
	for _, symbol := range symbols {
		tok, ok := cfg.Token(strings.TrimSpace(symbol))
		if !ok {
			writeError(w, fmt.Sprintf("Unknown token %q", symbol), http.StatusNotFound)
			return
		}
		amount := math.ZeroInt()
		if mint, err := solana.PublicKeyFromBase58(tok.Mint); err == nil {
			if amount, err = s.balances.GetTokenBalance(r.Context(), mint, owner); err != nil {
				log.Warn().Err(err).Str("token", tok.Symbol).Msg("token balance unavailable")
				amount = math.ZeroInt()
			}
		}
		resp.Tokens = append(resp.Tokens, TokenBalance{
			Symbol: tok.Symbol,
			Mint:   tok.Mint,
			Amount: amount.String(),
			View:   quote.ViewTokens(tok, amount),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	allQuotes := s.quotes.GetAllCached()

	var lastUpdate time.Time
	for _, q := range allQuotes {
		if q.LastUpdate.After(lastUpdate) {
			lastUpdate = q.LastUpdate
		}
	}

	health := HealthResponse{
		Status:         "healthy",
		LastUpdate:     lastUpdate,
		CachedQuotes:   len(allQuotes),
		CachedSwapData: s.swaps.Size(),
		Socket:         s.socketState.State(),
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.subs != nil {
		health.Subscriptions = s.subs.Stats()
	}
	if health.Socket.ReconnectError {
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, QuoteError{Error: message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
