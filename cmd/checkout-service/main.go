package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"solcheckout/pkg/anchor"
	"solcheckout/pkg/checkout"
	"solcheckout/pkg/config"
	"solcheckout/pkg/logging"
	"solcheckout/pkg/metrics"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/socket"
	"solcheckout/pkg/sol"
	"solcheckout/pkg/subscription"
	"solcheckout/pkg/swapdata"
	"solcheckout/pkg/wallet"
)

var (
	configPath      = flag.String("config", "", "YAML config file (env only when empty)")
	envFile         = flag.String("env", ".env", "dotenv file loaded before the config")
	listenAddr      = flag.String("listen", "", "HTTP listen address (overrides listen_addr)")
	refreshInterval = flag.Duration("refresh", 30*time.Second, "Swap data and quote refresh interval")
	useWebSocket    = flag.Bool("ws", true, "Keep swap data current through accountSubscribe")
	confirm         = flag.Bool("confirm", true, "Wait for checkout transactions to confirm")
	prettyLogs      = flag.Bool("pretty", false, "Human readable logs")
)

func main() {
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	store, err := config.NewStore(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := store.Config()
	logging.Setup(cfg.LogLevel, *prettyLogs)
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoints := cfg.RPCEndpoints
	if len(endpoints) == 0 {
		url, err := sol.ClusterAPIURL(cfg.Network)
		if err != nil {
			log.Fatal().Err(err).Msg("no RPC endpoint")
		}
		endpoints = []string{url}
	}

	rpcPool, err := sol.NewRPCPool(ctx, endpoints, cfg.RateLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create RPC pool")
	}
	rpcPool.WithCommitment(cfg.Commitment)
	solClient := rpcPool.GetClient()

	registry := anchor.NewRegistry(cfg.NetData.Program)
	swaps := swapdata.NewCache(solClient, func() (solana.PublicKey, error) {
		return registry.LoadProgram(config.ProgramSwapContract)
	})
	engine := quote.NewEngine(swaps)

	var subscriptionMgr *subscription.SubscriptionManager
	if *useWebSocket {
		wsURL := sol.HTTPToWsURL(endpoints[0])
		subscriptionMgr, err = subscription.NewSubscriptionManager(ctx, wsURL, swaps, subscription.WithCommitment(cfg.Commitment))
		if err != nil {
			log.Warn().Err(err).Str("url", wsURL).Msg("websocket unavailable, falling back to RPC-only mode")
			subscriptionMgr = nil
		}
	}

	quoteCache := NewQuoteCache(ctx, store, swaps, engine, subscriptionMgr, *refreshInterval)

	socketState := socket.NewStore()
	var socketClient *socket.Client
	if cfg.Socket.URL != "" {
		socketClient = socket.NewClient(cfg.Socket, socketState)
		socketClient.Handle(socket.OracleQuoteMutation, socket.OracleQuoteHandler(quoteCache))
		if err := socketClient.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("url", cfg.Socket.URL).Msg("backend socket unavailable")
		}
	}

	srv := &server{
		store:       store,
		quotes:      quoteCache,
		swaps:       swaps,
		balances:    solClient,
		socketState: socketState,
		subs:        subscriptionMgr,
		startTime:   time.Now(),
	}

	payer, err := wallet.Select(wallet.GetWalletAdapters(cfg.Wallet), "")
	if err != nil {
		log.Warn().Err(err).Msg("checkout disabled")
	} else {
		provider, err := wallet.GetProvider(payer, solClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create provider")
		}
		var registrar checkout.Registrar = checkout.NoopRegistrar{}
		if cfg.RegisterURL != "" {
			registrar = checkout.NewHTTPRegistrar(cfg.RegisterURL)
		}
		srv.payer = payer
		srv.checkout = checkout.New(solClient, provider, store, registrar).
			WithOrderGuard(checkout.NewOrderGuard(100_000, 0.0001)).
			WithConfirmation(*confirm)
		log.Info().Str("wallet", payer.Name()).Str("publicKey", payer.PublicKey().String()).Msg("checkout enabled")
	}

	store.Watch(func(cfg config.Config) {
		registry.Reset(cfg.NetData.Program)
		swaps.Clear()
		quoteCache.Clear()
		quoteCache.RefreshAll(ctx, WatchedPairs(cfg))
	})

	go quoteCache.StartPeriodicRefresh(ctx, func() []QuotePair { return WatchedPairs(store.Config()) })

	addr := cfg.ListenAddr
	if *listenAddr != "" {
		addr = *listenAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		if socketClient != nil {
			socketClient.Close()
		}
		if subscriptionMgr != nil {
			subscriptionMgr.Close()
		}
		cancel()
	}()

	log.Info().
		Str("addr", addr).
		Str("network", cfg.Network).
		Int("endpoints", rpcPool.Size()).
		Dur("refresh", *refreshInterval).
		Msg("checkout service listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
