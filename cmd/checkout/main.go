package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"solcheckout/pkg/anchor"
	"solcheckout/pkg/config"
	"solcheckout/pkg/logging"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/sol"
	"solcheckout/pkg/swapdata"
	"solcheckout/pkg/wallet"
)

var (
	cfgFile      string
	envFile      string
	rpcEndpoints string
	walletName   string
	logLevel     string
	jsonOutput   bool
)

var rootCmd = &cobra.Command{
	Use:           "checkout",
	Short:         "Solana merchant checkout client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		logging.Setup(logLevel, !jsonOutput)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&rpcEndpoints, "rpc", "", "Comma-separated Solana RPC endpoints (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&walletName, "wallet", "w", "", "Wallet adapter name (first installed when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", true, "Output as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		outputError(err)
		os.Exit(1)
	}
}

// app is the wiring shared by the subcommands.
type app struct {
	store    *config.Store
	client   *sol.Client
	registry *anchor.Registry
	cache    *swapdata.Cache
	engine   *quote.Engine
}

func newApp(ctx context.Context) (*app, error) {
	store, err := config.NewStore(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := store.Config()

	endpoints := cfg.RPCEndpoints
	if rpcEndpoints != "" {
		endpoints = nil
		for _, e := range strings.Split(rpcEndpoints, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
	}
	if len(endpoints) == 0 {
		url, err := sol.ClusterAPIURL(cfg.Network)
		if err != nil {
			return nil, err
		}
		endpoints = []string{url}
	}

	pool, err := sol.NewRPCPool(ctx, endpoints, cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC pool: %w", err)
	}
	pool.WithCommitment(cfg.Commitment)
	log.Debug().Int("endpoints", pool.Size()).Str("network", cfg.Network).Msg("rpc pool ready")

	a := &app{
		store:    store,
		client:   pool.GetClient(),
		registry: anchor.NewRegistry(cfg.NetData.Program),
	}
	a.cache = swapdata.NewCache(a.client, func() (solana.PublicKey, error) {
		return a.registry.LoadProgram(config.ProgramSwapContract)
	})
	a.engine = quote.NewEngine(a.cache)
	return a, nil
}

func (a *app) wallet() (wallet.Adapter, error) {
	return wallet.Select(wallet.GetWalletAdapters(a.store.Config().Wallet), walletName)
}

type errorOutput struct {
	Error string `json:"error"`
}

func output(cmd *cobra.Command, v interface{}, text func() string) error {
	if !jsonOutput {
		fmt.Fprintln(cmd.OutOrStdout(), text())
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func outputError(err error) {
	if jsonOutput {
		data, _ := json.MarshalIndent(errorOutput{Error: err.Error()}, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
}
