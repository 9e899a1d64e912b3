package sol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/avast/retry-go"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrAccountNotFound is returned when an account does not exist on chain.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotConfirmed is returned when a signature never reaches the wanted commitment.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

// Confirmation polling defaults.
const (
	DefaultConfirmAttempts = 60
	DefaultConfirmDelay    = 500 * time.Millisecond
)

// Account is the subset of account info the checkout cares about.
type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
	// Slot the account was read at, 0 when unknown.
	Slot uint64
}

// Client is a rate limited Solana RPC client.
type Client struct {
	endpoint   string
	rpcClient  *rpc.Client
	limiter    *rate.Limiter
	commitment rpc.CommitmentType

	confirmAttempts uint
	confirmDelay    time.Duration
}

// NewClient creates a client for endpoint allowing reqLimitPerSecond requests per second.
// A non-positive limit disables rate limiting.
func NewClient(ctx context.Context, endpoint string, reqLimitPerSecond int) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty RPC endpoint")
	}

	limit := rate.Inf
	burst := 1
	if reqLimitPerSecond > 0 {
		limit = rate.Limit(reqLimitPerSecond)
		burst = reqLimitPerSecond
	}

	return &Client{
		endpoint:        endpoint,
		rpcClient:       rpc.New(endpoint),
		limiter:         rate.NewLimiter(limit, burst),
		commitment:      rpc.CommitmentConfirmed,
		confirmAttempts: DefaultConfirmAttempts,
		confirmDelay:    DefaultConfirmDelay,
	}, nil
}

// WithCommitment sets the commitment used for reads and preflight.
func (c *Client) WithCommitment(commitment string) *Client {
	if commitment != "" {
		c.commitment = rpc.CommitmentType(commitment)
	}
	return c
}

// WithConfirmPolling overrides how long WaitForConfirmation polls.
func (c *Client) WithConfirmPolling(attempts uint, delay time.Duration) *Client {
	c.confirmAttempts = attempts
	c.confirmDelay = delay
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// RPC exposes the underlying solana-go client.
func (c *Client) RPC() *rpc.Client {
	return c.rpcClient
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// GetAccountInfoWithOpts fetches account info at the client commitment.
func (c *Client) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.rpcClient.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
}

// GetAccount returns the account or ErrAccountNotFound.
func (c *Client) GetAccount(ctx context.Context, account solana.PublicKey) (*Account, error) {
	info, err := c.GetAccountInfoWithOpts(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	}

	var data []byte
	if info.Value.Data != nil {
		data = info.Value.Data.GetBinary()
	}
	return &Account{
		Owner:    info.Value.Owner,
		Lamports: info.Value.Lamports,
		Data:     data,
		Slot:     info.Context.Slot,
	}, nil
}

// GetAccountData returns the raw account bytes.
func (c *Client) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	acc, err := c.GetAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return acc.Data, nil
}

// GetLamports returns the wallet's SOL balance, 0 when the account does not exist.
func (c *Client) GetLamports(ctx context.Context, wallet solana.PublicKey) (uint64, error) {
	acc, err := c.GetAccount(ctx, wallet)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acc.Lamports, nil
}

// HasTokenAccount reports whether the token account exists.
func (c *Client) HasTokenAccount(ctx context.Context, ata solana.PublicKey) (bool, error) {
	_, err := c.GetAccount(ctx, ata)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetTokenBalance returns the raw token amount held in wallet's associated token
// account for mint. A missing token account is a zero balance.
func (c *Client) GetTokenBalance(ctx context.Context, mint, wallet solana.PublicKey) (math.Int, error) {
	ata, err := AssociatedTokenAddress(wallet, mint)
	if err != nil {
		return math.ZeroInt(), err
	}

	acc, err := c.GetAccount(ctx, ata.PublicKey)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return math.ZeroInt(), nil
		}
		return math.ZeroInt(), err
	}
	if !acc.Owner.Equals(solana.TokenProgramID) {
		return math.ZeroInt(), fmt.Errorf("token account %s owned by %s", ata.PublicKey, acc.Owner)
	}

	var tokenAccount token.Account
	if err := tokenAccount.UnmarshalWithDecoder(bin.NewBinDecoder(acc.Data)); err != nil {
		return math.ZeroInt(), fmt.Errorf("failed to decode token account %s: %w", ata.PublicKey, err)
	}
	return math.NewIntFromUint64(tokenAccount.Amount), nil
}

// LatestBlockhash returns a recent blockhash for transaction assembly.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	res, err := c.rpcClient.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}
	return res.Value.Blockhash, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// WaitForConfirmation polls the signature status until it reaches the client
// commitment (or finalized). An on-chain error stops polling immediately.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	err := retry.Do(
		func() error {
			if err := c.wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			res, err := c.rpcClient.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				return err
			}
			if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
				return ErrNotConfirmed
			}
			status := res.Value[0]
			if status.Err != nil {
				return retry.Unrecoverable(fmt.Errorf("transaction %s failed: %v", sig, status.Err))
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				return nil
			}
			return ErrNotConfirmed
		},
		retry.Context(ctx),
		retry.Attempts(c.confirmAttempts),
		retry.Delay(c.confirmDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Str("signature", sig.String()).Uint("attempt", n).Err(err).Msg("waiting for confirmation")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", sig, err)
	}
	return nil
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}
