package main

import (
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"solcheckout/pkg/config"
	"solcheckout/pkg/quote"
	"solcheckout/pkg/wallet"
)

type walletInfo struct {
	Name       string `json:"name"`
	ReadyState string `json:"readyState"`
	PublicKey  string `json:"publicKey,omitempty"`
}

type tokenBalance struct {
	Symbol string `json:"symbol"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
	View   string `json:"view"`
}

type balanceOutput struct {
	Wallet   string         `json:"wallet"`
	Lamports uint64         `json:"lamports"`
	SOL      string         `json:"sol"`
	Tokens   []tokenBalance `json:"tokens,omitempty"`
}

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "List wallet adapters and their ready state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.NewStore(cfgFile)
		if err != nil {
			return err
		}

		adapters := wallet.GetWalletAdapters(store.Config().Wallet)
		if installed, _ := cmd.Flags().GetBool("installed"); installed {
			adapters = wallet.FilterInstalled(adapters)
		}

		infos := make([]walletInfo, 0, len(adapters))
		for _, adp := range adapters {
			info := walletInfo{Name: adp.Name(), ReadyState: string(adp.ReadyState())}
			if pk := adp.PublicKey(); !pk.IsZero() {
				info.PublicKey = pk.String()
			}
			infos = append(infos, info)
		}

		return output(cmd, infos, func() string {
			var b strings.Builder
			for _, info := range infos {
				fmt.Fprintf(&b, "%-14s %-12s %s\n", info.Name, info.ReadyState, info.PublicKey)
			}
			return strings.TrimRight(b.String(), "\n")
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance [token...]",
	Short: "Show SOL and token balances of the selected wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		owner, err := balanceOwner(cmd, a)
		if err != nil {
			return err
		}

		lamports, err := a.client.GetLamports(ctx, owner)
		if err != nil {
			return err
		}

		cfg := a.store.Config()
		symbols := args
		if len(symbols) == 0 {
			for symbol := range cfg.Tokens {
				symbols = append(symbols, symbol)
			}
		}

		out := balanceOutput{
			Wallet:   owner.String(),
			Lamports: lamports,
			SOL:      quote.ViewTokens(config.TokenSpec{Decimals: 9, ViewDecimals: 4}, math.NewIntFromUint64(lamports)),
		}
		for _, symbol := range symbols {
			tok, ok := cfg.Token(symbol)
			if !ok {
				return fmt.Errorf("unknown token %q", symbol)
			}
			mint, err := solana.PublicKeyFromBase58(tok.Mint)
			if err != nil {
				return fmt.Errorf("token %s: %w", symbol, err)
			}
			amount, err := a.client.GetTokenBalance(ctx, mint, owner)
			if err != nil {
				log.Warn().Err(err).Str("token", tok.Symbol).Msg("token balance unavailable")
				amount = math.ZeroInt()
			}
			out.Tokens = append(out.Tokens, tokenBalance{
				Symbol: tok.Symbol,
				Mint:   tok.Mint,
				Amount: amount.String(),
				View:   quote.ViewTokens(tok, amount),
			})
		}

		return output(cmd, out, func() string {
			var b strings.Builder
			fmt.Fprintf(&b, "Wallet: %s\nSOL: %s\n", out.Wallet, out.SOL)
			for _, t := range out.Tokens {
				fmt.Fprintf(&b, "%s: %s\n", t.Symbol, t.View)
			}
			return strings.TrimRight(b.String(), "\n")
		})
	},
}

func balanceOwner(cmd *cobra.Command, a *app) (solana.PublicKey, error) {
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		return solana.PublicKeyFromBase58(address)
	}
	adp, err := a.wallet()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return adp.PublicKey(), nil
}

func init() {
	walletsCmd.Flags().Bool("installed", false, "Only list installed wallets")
	balanceCmd.Flags().String("address", "", "Query this address instead of the selected wallet")

	rootCmd.AddCommand(walletsCmd)
	rootCmd.AddCommand(balanceCmd)
}
