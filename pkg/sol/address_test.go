package sol

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssociatedTokenAddress(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	mint := solana.SolMint

	got, err := AssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)

	want, nonce, err := solana.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)
	assert.Equal(t, want, got.PublicKey)
	assert.Equal(t, nonce, got.Nonce)
	assert.Equal(t, want.String(), got.String())
}

func TestProgramAddress(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	seeds := [][]byte{program[:]}

	got, err := ProgramAddress(seeds, program)
	require.NoError(t, err)

	want, err := solana.CreateProgramAddress(append(seeds, []byte{got.Nonce}), program)
	require.NoError(t, err)
	assert.Equal(t, want, got.PublicKey)
}

func TestClusterAPIURL(t *testing.T) {
	for network, want := range map[string]string{
		"devnet":       "https://api.devnet.solana.com",
		"testnet":      "https://api.testnet.solana.com",
		"mainnet-beta": "https://api.mainnet-beta.solana.com",
		"":             "https://api.devnet.solana.com",
	} {
		got, err := ClusterAPIURL(network)
		require.NoError(t, err, network)
		assert.Equal(t, want, got, network)
	}

	_, err := ClusterAPIURL("moonnet")
	assert.Error(t, err)

	assert.Equal(t, "wss://api.devnet.solana.com", HTTPToWsURL("https://api.devnet.solana.com"))
	assert.Equal(t, "ws://127.0.0.1:8900", HTTPToWsURL("http://127.0.0.1:8900"))
}

func TestRPCPool(t *testing.T) {
	_, err := NewRPCPool(context.Background(), nil, 10)
	assert.Error(t, err)

	pool, err := NewRPCPool(context.Background(), []string{"http://a", "http://b"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())

	first := pool.GetClient()
	second := pool.GetClient()
	assert.NotSame(t, first, second)
	assert.Same(t, first, pool.GetClient())

	pool.WithCommitment("finalized")
	for _, c := range pool.GetAllClients() {
		assert.Equal(t, "finalized", string(c.Commitment()))
	}
}
