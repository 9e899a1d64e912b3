package checkout

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"solcheckout/pkg/config"
	"solcheckout/pkg/sol"
)

// swapID selects the route under a mint pair. Only the first route is used.
const swapID int16 = 0

type swapRoute struct {
	direction   bool
	mint1       solana.PublicKey
	swapData    sol.Address
	tokData1    sol.Address
	tokData2    sol.Address
	agentToken  sol.Address
	walletToken sol.Address
	remaining   []*solana.AccountMeta
}

// swapRoute derives the swap contract accounts for the route configured under key.
func (c *Checkout) swapRoute(cfg config.Config, key string, user, tokenMint, rootKey solana.PublicKey) (*swapRoute, error) {
	spec, ok := cfg.Swap(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSwap, key)
	}

	swapContract, err := cfg.NetData.ProgramID(config.ProgramSwapContract)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]solana.PublicKey, 4)
	for name, addr := range map[string]string{
		"token_mint1": spec.TokenMint1,
		"token_mint2": spec.TokenMint2,
		"swap_data":   spec.SwapData,
		"fees_token":  spec.FeesToken,
	} {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("swap %s: invalid %s: %w", key, name, err)
		}
		keys[name] = pk
	}
	mint1, mint2 := keys["token_mint1"], keys["token_mint2"]
	swapDataPK := keys["swap_data"]

	id := make([]byte, 2)
	binary.LittleEndian.PutUint16(id, uint16(swapID))

	seeds := [][]byte{mint2[:], mint1[:], id}
	if spec.SwapDirection {
		seeds = [][]byte{mint1[:], mint2[:], id}
	}

	route := &swapRoute{direction: spec.SwapDirection, mint1: mint1}
	if route.swapData, err = sol.ProgramAddress(seeds, swapContract); err != nil {
		return nil, err
	}
	if route.tokData1, err = sol.AssociatedTokenAddress(swapDataPK, mint1); err != nil {
		return nil, err
	}
	if route.tokData2, err = sol.AssociatedTokenAddress(swapDataPK, mint2); err != nil {
		return nil, err
	}
	if route.agentToken, err = sol.AssociatedTokenAddress(rootKey, tokenMint); err != nil {
		return nil, err
	}
	if route.walletToken, err = sol.AssociatedTokenAddress(user, mint1); err != nil {
		return nil, err
	}

	route.remaining = []*solana.AccountMeta{
		solana.NewAccountMeta(route.walletToken.PublicKey, true, false),
		solana.NewAccountMeta(swapContract, false, false),
		solana.NewAccountMeta(swapDataPK, true, false),
		solana.NewAccountMeta(route.tokData1.PublicKey, true, false),
		solana.NewAccountMeta(route.tokData2.PublicKey, true, false),
		solana.NewAccountMeta(keys["fees_token"], true, false),
	}
	if spec.OracleChain != "" {
		oracle, err := solana.PublicKeyFromBase58(spec.OracleChain)
		if err != nil {
			return nil, fmt.Errorf("swap %s: invalid oracle_chain: %w", key, err)
		}
		route.remaining = append(route.remaining, solana.NewAccountMeta(oracle, false, false))
	}

	return route, nil
}
