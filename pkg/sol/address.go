package sol

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Address is a derived address together with its bump seed.
type Address struct {
	PublicKey solana.PublicKey `json:"pubkey"`
	Nonce     uint8            `json:"nonce"`
}

func (a Address) String() string {
	return a.PublicKey.String()
}

// AssociatedTokenAddress derives wallet's associated token account for mint
// under the legacy SPL token program.
func AssociatedTokenAddress(wallet, mint solana.PublicKey) (Address, error) {
	addr, nonce, err := solana.FindProgramAddress(
		[][]byte{
			wallet[:],
			solana.TokenProgramID[:],
			mint[:],
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return Address{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return Address{PublicKey: addr, Nonce: nonce}, nil
}

// ProgramAddress derives a program address from seeds.
func ProgramAddress(seeds [][]byte, program solana.PublicKey) (Address, error) {
	addr, nonce, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return Address{}, fmt.Errorf("failed to derive program address: %w", err)
	}
	return Address{PublicKey: addr, Nonce: nonce}, nil
}
