package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"solcheckout/pkg/config"
	"solcheckout/pkg/metrics"
	"solcheckout/pkg/sol"
)

// MinimumSOL is left in the wallet when a wrap request exceeds its balance.
const MinimumSOL uint64 = 10_000_000 // 0.01 SOL

// Result values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// ErrUnknownSwap is returned when params name a swap key that is not configured.
	ErrUnknownSwap = errors.New("unknown swap")
)

// Chain is the RPC surface a checkout needs. *sol.Client satisfies it.
type Chain interface {
	GetLamports(ctx context.Context, wallet solana.PublicKey) (uint64, error)
	HasTokenAccount(ctx context.Context, ata solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature) error
}

// Signer signs with the paying wallet. wallet.Adapter and *wallet.Provider satisfy it.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Params of one checkout.
type Params struct {
	Swap        bool   `json:"swap"`
	SwapKey     string `json:"swapKey,omitempty"`
	WrapSOL     bool   `json:"wrapSOL,omitempty"`
	WrapAmount  uint64 `json:"wrapAmount,omitempty"`
	TokensTotal uint64 `json:"tokensTotal"`
	// Order overrides the store's order data for this checkout.
	Order *config.OrderData `json:"orderData,omitempty"`
}

// Result is the tagged outcome of MerchantCheckout.
type Result struct {
	Result         string `json:"result"`
	Error          string `json:"error,omitempty"`
	UUID           string `json:"uuid,omitempty"`
	TransactionSig string `json:"transaction_sig,omitempty"`

	err error
}

// Err returns the failure behind an error result.
func (r Result) Err() error {
	return r.err
}

func (r Result) OK() bool {
	return r.Result == ResultOK
}

func errorResult(err error) Result {
	return Result{Result: ResultError, Error: err.Error(), err: err}
}

// Plan is an assembled, unsigned checkout transaction.
type Plan struct {
	Transaction *solana.Transaction
	OrderID     string
	Payment     *MerchantPaymentInstruction
	WrapAmount  uint64
	Unwrap      bool
}

// Checkout assembles and submits merchant payments.
type Checkout struct {
	chain     Chain
	signer    Signer
	store     *config.Store
	registrar Registrar
	guard     *OrderGuard
	confirm   bool
}

// New creates a checkout paying from signer. A nil registrar registers nothing.
func New(chain Chain, signer Signer, store *config.Store, registrar Registrar) *Checkout {
	if registrar == nil {
		registrar = NoopRegistrar{}
	}
	return &Checkout{
		chain:     chain,
		signer:    signer,
		store:     store,
		registrar: registrar,
		confirm:   true,
	}
}

// WithOrderGuard refuses to submit the same order id twice.
func (c *Checkout) WithOrderGuard(g *OrderGuard) *Checkout {
	c.guard = g
	return c
}

// WithConfirmation toggles waiting for the signature to confirm.
func (c *Checkout) WithConfirmation(confirm bool) *Checkout {
	c.confirm = confirm
	return c
}

// MerchantCheckout pays the current order. Every failure is reported in the result.
func (c *Checkout) MerchantCheckout(ctx context.Context, params Params) Result {
	start := time.Now()
	res := c.merchantCheckout(ctx, params)
	metrics.RecordCheckout(res.Result, params.Swap, time.Since(start))
	if !res.OK() {
		log.Warn().Err(res.err).Bool("swap", params.Swap).Msg("checkout failed")
	}
	return res
}

func (c *Checkout) merchantCheckout(ctx context.Context, params Params) Result {
	plan, err := c.Build(ctx, params)
	if err != nil {
		return errorResult(err)
	}

	// Once the transaction is broadcast it may land, so the order counts as paid
	// even when confirmation fails.
	sent := false
	if c.guard != nil {
		release, err := c.guard.Reserve(plan.OrderID)
		if err != nil {
			return errorResult(fmt.Errorf("%w: %s", err, plan.OrderID))
		}
		defer func() { release(sent) }()
	}

	if err := c.signer.SignTransaction(ctx, plan.Transaction); err != nil {
		return errorResult(err)
	}
	sig := plan.Transaction.Signatures[0]

	if err := c.registrar.Register(ctx, plan.OrderID, EncodeSignature(sig)); err != nil {
		return errorResult(fmt.Errorf("failed to register payment: %w", err))
	}

	txSig, err := c.chain.SendTransaction(ctx, plan.Transaction, true)
	if err != nil {
		return errorResult(err)
	}
	sent = true
	log.Info().Str("order", plan.OrderID).Str("signature", txSig.String()).Msg("payment sent")

	if c.confirm {
		if err := c.chain.WaitForConfirmation(ctx, txSig); err != nil {
			return errorResult(err)
		}
	}

	return Result{
		Result:         ResultOK,
		UUID:           plan.OrderID,
		TransactionSig: EncodeSignature(txSig),
	}
}

// prefetch holds the chain reads a checkout needs, fetched concurrently.
type prefetch struct {
	blockhash solana.Hash
	lamports  uint64
	hasWSOL   bool
}

func (c *Checkout) prefetch(ctx context.Context, user, walletToken solana.PublicKey, wrap bool) (prefetch, error) {
	var out prefetch
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hash, err := c.chain.LatestBlockhash(gctx)
		out.blockhash = hash
		return err
	})
	if wrap {
		g.Go(func() error {
			lamports, err := c.chain.GetLamports(gctx, user)
			out.lamports = lamports
			return err
		})
		g.Go(func() error {
			has, err := c.chain.HasTokenAccount(gctx, walletToken)
			out.hasWSOL = has
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return prefetch{}, err
	}
	return out, nil
}

// Build assembles the checkout transaction without signing it.
func (c *Checkout) Build(ctx context.Context, params Params) (*Plan, error) {
	cfg := c.store.Config()
	net := cfg.NetData
	order := cfg.OrderData
	if params.Order != nil {
		order = *params.Order
	}

	tokenAgent, err := net.ProgramID(config.ProgramTokenAgent)
	if err != nil {
		return nil, err
	}
	netAuth, err := net.ProgramID(config.ProgramNetAuthority)
	if err != nil {
		return nil, err
	}

	tokenMint, err := solana.PublicKeyFromBase58(order.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	merchantWallet, err := solana.PublicKeyFromBase58(order.MerchantWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant wallet: %w", err)
	}
	merchantApproval, err := solana.PublicKeyFromBase58(order.MerchantApproval)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant approval: %w", err)
	}
	feesAccount, err := solana.PublicKeyFromBase58(order.FeesAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid fees account: %w", err)
	}
	paymentID, err := PaymentID(order.OrderID)
	if err != nil {
		return nil, err
	}

	user := c.signer.PublicKey()
	if user.IsZero() {
		return nil, fmt.Errorf("wallet has no public key")
	}

	merchantTK, err := sol.AssociatedTokenAddress(merchantWallet, tokenMint)
	if err != nil {
		return nil, err
	}
	feesTK, err := sol.AssociatedTokenAddress(feesAccount, tokenMint)
	if err != nil {
		return nil, err
	}
	rootKey, err := sol.ProgramAddress([][]byte{tokenAgent[:]}, tokenAgent)
	if err != nil {
		return nil, err
	}
	userToken, err := sol.AssociatedTokenAddress(user, tokenMint)
	if err != nil {
		return nil, err
	}

	accounts := PaymentAccounts{
		NetAuth:          netAuth,
		RootKey:          rootKey.PublicKey,
		MerchantApproval: merchantApproval,
		MerchantToken:    merchantTK.PublicKey,
		UserKey:          user,
		TokenProgram:     solana.TokenProgramID,
		TokenAccount:     userToken.PublicKey,
		FeesAccount:      feesTK.PublicKey,
	}
	args := MerchantPaymentInstruction{
		MerchantNonce: merchantTK.Nonce,
		RootNonce:     rootKey.Nonce,
		PaymentID:     paymentID,
		Amount:        params.TokensTotal,
		Swap:          params.Swap,
		SwapMode:      SwapModeExactIn,
	}

	var remaining []*solana.AccountMeta
	var walletToken, wrapMint solana.PublicKey
	wrap := false
	if params.Swap {
		route, err := c.swapRoute(cfg, params.SwapKey, user, tokenMint, rootKey.PublicKey)
		if err != nil {
			return nil, err
		}
		accounts.TokenAccount = route.agentToken.PublicKey
		args.SwapDirection = route.direction
		args.SwapDataNonce = route.swapData.Nonce
		args.SwapInbNonce = route.tokData1.Nonce
		args.SwapOutNonce = route.tokData2.Nonce
		args.SwapDstNonce = route.agentToken.Nonce
		remaining = route.remaining
		walletToken = route.walletToken.PublicKey
		wrapMint = route.mint1
		wrap = params.WrapSOL
	}

	pre, err := c.prefetch(ctx, user, walletToken, wrap)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain state: %w", err)
	}

	plan := &Plan{OrderID: order.OrderID}
	var instructions []solana.Instruction
	if wrap {
		wrapAmount := params.WrapAmount
		if wrapAmount > pre.lamports {
			wrapAmount = 0
			if pre.lamports > MinimumSOL {
				wrapAmount = pre.lamports - MinimumSOL
			}
		}
		if !pre.hasWSOL {
			plan.Unwrap = true
			instructions = append(instructions,
				associatedtokenaccount.NewCreateInstruction(user, user, wrapMint).Build())
		}
		instructions = append(instructions,
			system.NewTransferInstruction(wrapAmount, user, walletToken).Build(),
			token.NewSyncNativeInstruction(walletToken).Build(),
		)
		plan.WrapAmount = wrapAmount
	}

	payment := NewMerchantPaymentInstruction(tokenAgent, args, accounts, remaining...)
	instructions = append(instructions, payment)
	plan.Payment = payment

	if plan.Unwrap {
		instructions = append(instructions,
			token.NewCloseAccountInstruction(walletToken, user, user, nil).Build())
	}

	tx, err := solana.NewTransaction(instructions, pre.blockhash, solana.TransactionPayer(user))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	plan.Transaction = tx
	return plan, nil
}
