package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"solcheckout/pkg/checkout"
	"solcheckout/pkg/config"
	"solcheckout/pkg/wallet"
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Pay the configured order",
	Example: `  checkout pay --tokens-total 2500000
  checkout pay --swap usdc-sol --wrap --wrap-amount 20000000 --tokens-total 2500000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		adp, err := a.wallet()
		if err != nil {
			return err
		}
		provider, err := wallet.GetProvider(adp, a.client)
		if err != nil {
			return err
		}

		var params checkout.Params
		params.SwapKey, _ = cmd.Flags().GetString("swap")
		params.Swap = params.SwapKey != ""
		params.WrapSOL, _ = cmd.Flags().GetBool("wrap")
		params.WrapAmount, _ = cmd.Flags().GetUint64("wrap-amount")
		params.TokensTotal, _ = cmd.Flags().GetUint64("tokens-total")
		if params.TokensTotal == 0 {
			return fmt.Errorf("--tokens-total is required")
		}

		if order, changed := orderFromFlags(cmd, a.store.Config().OrderData); changed {
			if err := a.store.UpdateOrderData(order); err != nil {
				return err
			}
		}

		var registrar checkout.Registrar = checkout.NoopRegistrar{}
		if url := a.store.Config().RegisterURL; url != "" {
			registrar = checkout.NewHTTPRegistrar(url)
		}

		confirm, _ := cmd.Flags().GetBool("confirm")
		c := checkout.New(a.client, provider, a.store, registrar).WithConfirmation(confirm)

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			plan, err := c.Build(ctx, params)
			if err != nil {
				return err
			}
			return outputPlan(cmd, plan)
		}

		res := c.MerchantCheckout(ctx, params)
		if err := output(cmd, res, func() string {
			if res.OK() {
				return fmt.Sprintf("Paid order %s: %s", res.UUID, res.TransactionSig)
			}
			return "Checkout failed: " + res.Error
		}); err != nil {
			return err
		}
		if !res.OK() {
			return res.Err()
		}
		return nil
	},
}

func init() {
	payCmd.Flags().String("swap", "", "Swap key to pay through (direct payment when empty)")
	payCmd.Flags().Bool("wrap", false, "Wrap SOL into the swap's inbound token account first")
	payCmd.Flags().Uint64("wrap-amount", 0, "Lamports to wrap")
	payCmd.Flags().Uint64("tokens-total", 0, "Payment amount in base units of the order token")
	payCmd.Flags().Bool("confirm", true, "Wait for the transaction to confirm")
	payCmd.Flags().Bool("dry-run", false, "Assemble the transaction without signing or sending it")
	payCmd.Flags().String("order-id", "", "Order UUID (overrides order_data.order_id)")
	payCmd.Flags().String("token-mint", "", "Payment token mint (overrides order_data.token_mint)")
	payCmd.Flags().String("merchant-wallet", "", "Merchant wallet (overrides order_data.merchant_wallet)")
	payCmd.Flags().String("merchant-approval", "", "Merchant approval account (overrides order_data.merchant_approval)")
	payCmd.Flags().String("fees-account", "", "Fees account (overrides order_data.fees_account)")

	rootCmd.AddCommand(payCmd)
}

// orderFromFlags applies the order flags that were set on top of base.
func orderFromFlags(cmd *cobra.Command, base config.OrderData) (config.OrderData, bool) {
	order := base
	changed := false
	for flag, field := range map[string]*string{
		"order-id":          &order.OrderID,
		"token-mint":        &order.TokenMint,
		"merchant-wallet":   &order.MerchantWallet,
		"merchant-approval": &order.MerchantApproval,
		"fees-account":      &order.FeesAccount,
	} {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		*field, _ = cmd.Flags().GetString(flag)
		changed = true
	}
	return order, changed
}

type planOutput struct {
	OrderID      string `json:"orderId"`
	Instructions int    `json:"instructions"`
	WrapAmount   uint64 `json:"wrapAmount"`
	Unwrap       bool   `json:"unwrap"`
	Message      string `json:"message"`
}

func outputPlan(cmd *cobra.Command, plan *checkout.Plan) error {
	message, err := plan.Transaction.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	out := planOutput{
		OrderID:      plan.OrderID,
		Instructions: len(plan.Transaction.Message.Instructions),
		WrapAmount:   plan.WrapAmount,
		Unwrap:       plan.Unwrap,
		Message:      base64.StdEncoding.EncodeToString(message),
	}
	return output(cmd, out, func() string { return plan.Transaction.String() })
}
