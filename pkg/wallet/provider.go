package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"solcheckout/pkg/sol"
)

// Provider pairs a signing wallet with the RPC client transactions go through.
type Provider struct {
	Wallet     Adapter
	Client     *sol.Client
	Commitment rpc.CommitmentType
}

// GetProvider builds a provider at the client's commitment.
func GetProvider(adapter Adapter, client *sol.Client) (*Provider, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: no wallet", ErrNotReady)
	}
	if adapter.ReadyState() != Installed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, adapter.Name(), adapter.ReadyState())
	}
	return &Provider{
		Wallet:     adapter,
		Client:     client,
		Commitment: client.Commitment(),
	}, nil
}

func (p *Provider) PublicKey() solana.PublicKey {
	return p.Wallet.PublicKey()
}

func (p *Provider) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return p.Wallet.SignTransaction(ctx, tx)
}

func (p *Provider) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error {
	return p.Wallet.SignAllTransactions(ctx, txs)
}
