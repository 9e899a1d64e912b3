package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
network: mainnet-beta
rpc_endpoints:
  - https://api.mainnet-beta.solana.com
commitment: finalized
net_data:
  program:
    atx-net-authority: 11111111111111111111111111111111
    token-agent: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
order_data:
  order_id: 0f8fad5b-d9cb-469f-a165-70867728950e
  token_mint: So11111111111111111111111111111111111111112
swap_data:
  USDC-SOL:
    swap_direction: true
    token_mint1: So11111111111111111111111111111111111111112
    token_mint2: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
    swap_data: 11111111111111111111111111111111
    fees_token: 11111111111111111111111111111111
    oracle_track: sol-usd
tokens:
  SOL:
    mint: So11111111111111111111111111111111111111112
    decimals: 9
    view_decimals: 4
socket:
  url: wss://example.com/socket
  reconnection_attempts: 3
  reconnection_delay: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "mainnet-beta", cfg.Network)
	assert.Equal(t, "finalized", cfg.Commitment)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.RPCEndpoints)
	assert.Equal(t, 3, cfg.Socket.ReconnectionAttempts)
	assert.Equal(t, 2*time.Second, cfg.Socket.ReconnectionDelay)
	assert.True(t, cfg.Socket.Reconnection)

	// defaults
	assert.Equal(t, 20, cfg.RateLimit)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "SOLANA_PRIVATE_KEY_BASE58", cfg.Wallet.PrivateKeyEnv)

	program, err := cfg.NetData.ProgramID(ProgramTokenAgent)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, program)

	_, err = cfg.NetData.ProgramID(ProgramSwapContract)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSwapAndTokenLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	for _, key := range []string{"USDC-SOL", "usdc-sol", "Usdc-Sol"} {
		spec, ok := cfg.Swap(key)
		require.True(t, ok, key)
		assert.True(t, spec.SwapDirection)
		assert.Equal(t, "sol-usd", spec.OracleTrack)
	}
	_, ok := cfg.Swap("BTC-SOL")
	assert.False(t, ok)

	tok, ok := cfg.Token("sol")
	require.True(t, ok)
	assert.Equal(t, "SOL", tok.Symbol)
	assert.Equal(t, int32(9), tok.Decimals)
	assert.Equal(t, int32(4), tok.ViewDecimals)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHECKOUT_NETWORK", "testnet")
	t.Setenv("CHECKOUT_SOCKET_RECONNECTION", "false")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Network)
	assert.False(t, cfg.Socket.Reconnection)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "http://a:8899, http://b:8899,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "devnet", cfg.Network)
	assert.Equal(t, []string{"http://a:8899", "http://b:8899"}, cfg.RPCEndpoints)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Network: "devnet",
			NetData: NetData{Program: map[string]string{ProgramNetAuthority: "11111111111111111111111111111111"}},
			SwapData: map[string]SwapSpec{"sol": {
				TokenMint1: solana.SolMint.String(),
				TokenMint2: solana.SolMint.String(),
				SwapData:   solana.SystemProgramID.String(),
				FeesToken:  solana.SystemProgramID.String(),
			}},
			Tokens: map[string]TokenSpec{"sol": {Mint: solana.SolMint.String(), Decimals: 9}},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"program", func(c *Config) { c.NetData.Program["token-agent"] = "nope" }, "net_data.program.token-agent"},
		{"order id", func(c *Config) { c.OrderData.OrderID = "not-a-uuid" }, "order_data.order_id"},
		{"merchant wallet", func(c *Config) { c.OrderData.MerchantWallet = "0OIl" }, "order_data.merchant_wallet"},
		{"swap mint", func(c *Config) {
			s := c.SwapData["sol"]
			s.TokenMint2 = ""
			c.SwapData["sol"] = s
		}, "swap_data.sol.token_mint2"},
		{"token decimals", func(c *Config) { c.Tokens["sol"] = TokenSpec{Mint: solana.SolMint.String(), Decimals: -1} }, "tokens.sol.decimals"},
		{"network", func(c *Config) { c.Network = "moonnet" }, "network"},
		{"commitment", func(c *Config) { c.Commitment = "eventually" }, "commitment"},
		{"socket url", func(c *Config) { c.Socket.URL = "::" }, "socket.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestStoreUpdates(t *testing.T) {
	store := NewStaticStore(Config{Network: "devnet"})

	mint := solana.NewWallet().PublicKey().String()
	swap := SwapSpec{TokenMint1: mint, TokenMint2: mint, SwapData: mint, FeesToken: mint, OracleTrack: "x"}

	require.NoError(t, store.UpdateOrderData(OrderData{OrderID: "0f8fad5b-d9cb-469f-a165-70867728950e", TokenMint: mint}))
	require.NoError(t, store.UpdateSwapData(map[string]SwapSpec{"USDC-SOL": swap}))
	require.NoError(t, store.UpdateNetData(NetData{Program: map[string]string{"k": mint}}))

	cfg := store.Config()
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", cfg.OrderData.OrderID)
	got, ok := cfg.Swap("usdc-sol")
	require.True(t, ok)
	assert.Equal(t, "x", got.OracleTrack)
	_, ok = cfg.Swap("USDC-SOL")
	assert.True(t, ok)
	assert.Equal(t, mint, cfg.NetData.Program["k"])

	// invalid updates leave the store untouched
	err := store.UpdateOrderData(OrderData{OrderID: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "order_data.order_id")

	swap.SwapData = "nope"
	err = store.UpdateSwapData(map[string]SwapSpec{"b": swap})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "swap_data.swap_data")

	err = store.UpdateNetData(NetData{Program: map[string]string{"k": "v"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = store.Config()
	assert.Equal(t, "0f8fad5b-d9cb-469f-a165-70867728950e", cfg.OrderData.OrderID)
	assert.Len(t, cfg.SwapData, 1)
	assert.Equal(t, mint, cfg.NetData.Program["k"])

	// Watch without a backing file is a no-op.
	store.Watch(nil)
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "mainnet-beta", store.Config().Network)

	_, err = NewStore(writeConfig(t, "network: moonnet\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHECKOUT_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("CHECKOUT_TEST_VALUE", "")
	os.Unsetenv("CHECKOUT_TEST_VALUE")

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", os.Getenv("CHECKOUT_TEST_VALUE"))
}
