package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"solcheckout/pkg/config"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/socket"
)

type quoteOutput struct {
	Swap             string `json:"swap"`
	OrderType        string `json:"orderType"`
	From             string `json:"from"`
	To               string `json:"to"`
	FromAmount       string `json:"fromAmount"`
	FromAmountTokens string `json:"fromAmountTokens"`
	Amount           string `json:"amount"`
	ViewAmount       string `json:"viewAmount"`
	OracleQuote      string `json:"oracleQuote,omitempty"`
}

var quoteCmd = &cobra.Command{
	Use:   "quote SWAP AMOUNT",
	Short: "Quote a swap from on-chain swap data",
	Example: `  checkout quote usdc-sol 1.5
  checkout quote usdc-sol 100 --order buy
  checkout quote usdc-sol 1 --oracle 151.25`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		swapKey, amount := args[0], args[1]

		orderFlag, _ := cmd.Flags().GetString("order")
		orderType, err := quote.ParseOrderType(orderFlag)
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		cfg := a.store.Config()

		fromSymbol, _ := cmd.Flags().GetString("from")
		toSymbol, _ := cmd.Flags().GetString("to")
		route, err := quote.ResolveRoute(cfg, swapKey, fromSymbol, toSymbol)
		if err != nil {
			return err
		}

		if err := prepareOracle(ctx, cmd, a, cfg, route); err != nil {
			return err
		}

		res, err := a.engine.QuoteAmount(ctx, route.To, route.From, route.Swap, amount, orderType)
		if err != nil {
			return err
		}

		out := quoteOutput{
			Swap:             swapKey,
			OrderType:        string(orderType),
			From:             route.From.Symbol,
			To:               route.To.Symbol,
			FromAmount:       amount,
			FromAmountTokens: res.FromAmountTokens.String(),
			Amount:           res.Amount.String(),
			ViewAmount:       res.ViewAmount,
		}
		if v, ok := a.engine.OracleQuote(route.Swap.OracleTrack); ok {
			out.OracleQuote = v.String()
		}

		return output(cmd, out, func() string {
			if orderType == quote.Buy {
				return fmt.Sprintf("Buying %s %s costs %s %s", amount, route.To.Symbol, res.ViewAmount, route.From.Symbol)
			}
			return fmt.Sprintf("Selling %s %s returns %s %s", amount, route.From.Symbol, res.ViewAmount, route.To.Symbol)
		})
	},
}

// prepareOracle loads an oracle quote for oracle priced routes, either from the
// --oracle flag or by listening on the backend socket for a while.
func prepareOracle(ctx context.Context, cmd *cobra.Command, a *app, cfg config.Config, route quote.Route) error {
	if oracle, _ := cmd.Flags().GetString("oracle"); oracle != "" {
		v, err := decimal.NewFromString(oracle)
		if err != nil {
			return fmt.Errorf("invalid oracle quote: %w", err)
		}
		a.engine.SetOracleQuote(route.Swap.OracleTrack, v)
		return nil
	}

	address, err := solana.PublicKeyFromBase58(route.Swap.SwapData)
	if err != nil {
		return fmt.Errorf("invalid swap data address: %w", err)
	}
	sd, err := a.cache.Get(ctx, address)
	if err != nil {
		return err
	}
	if !sd.Side(route.Swap.SwapDirection).OracleRates || cfg.Socket.URL == "" {
		return nil
	}

	wait, _ := cmd.Flags().GetDuration("oracle-wait")
	return waitForOracle(ctx, cfg.Socket, a.engine, route.Swap.OracleTrack, wait)
}

func waitForOracle(ctx context.Context, sc config.SocketConfig, engine *quote.Engine, track string, wait time.Duration) error {
	client := socket.NewClient(sc, socket.NewStore())
	client.Handle(socket.OracleQuoteMutation, socket.OracleQuoteHandler(engine))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := engine.OracleQuote(track); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s after %s", quote.ErrNoOracleQuote, track, wait)
		case <-ticker.C:
		}
	}
}

func init() {
	quoteCmd.Flags().String("order", "sell", "Order type: sell or buy")
	quoteCmd.Flags().String("from", "", "From token symbol (defaults to the swap's from_token)")
	quoteCmd.Flags().String("to", "", "To token symbol (defaults to the swap's to_token)")
	quoteCmd.Flags().String("oracle", "", "Oracle quote to price with instead of listening on the socket")
	quoteCmd.Flags().Duration("oracle-wait", 10*time.Second, "How long to wait for an oracle quote on the socket")

	rootCmd.AddCommand(quoteCmd)
}
