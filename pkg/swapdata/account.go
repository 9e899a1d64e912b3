package swapdata

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solcheckout/pkg/anchor"
)

// AccountType is the anchor account name of a swap route.
const AccountType = "SwapData"

// OracleRateScale is the fixed point scale of RateSwap when it caps an oracle quote.
const OracleRateScale = 8

// SwapData is the on-chain state of one swap route of the swap contract.
type SwapData struct {
	Active       bool
	MerchantOnly bool
	SwapID       uint16
	InbTokenData SwapTokenData
	OutTokenData SwapTokenData
	FeesInbound  bool
	FeesToken    solana.PublicKey
	OracleChain  solana.PublicKey
}

// SwapTokenData holds the rates and fee of one side of a route.
type SwapTokenData struct {
	Mint          solana.PublicKey
	Decimals      uint8
	RateSwap      uint64
	RateBase      uint64
	OracleRates   bool
	OracleInverse bool
	OracleMax     bool
	FeesBps       uint32
	SwapTokens    uint64
	SwapCount     uint64
}

// Decode parses raw account bytes, discriminator included.
func Decode(data []byte) (*SwapData, error) {
	var sd SwapData
	if err := anchor.DecodeAccount(data, AccountType, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

// Encode serializes sd as the account bytes the swap contract stores.
func Encode(sd *SwapData) ([]byte, error) {
	return anchor.EncodeAccount(AccountType, *sd)
}

// Side returns the token data a quote prices against: inbound when direction is set.
func (sd *SwapData) Side(direction bool) SwapTokenData {
	if direction {
		return sd.InbTokenData
	}
	return sd.OutTokenData
}

// HasOracle reports whether an oracle chain account is attached.
func (sd *SwapData) HasOracle() bool {
	return !sd.OracleChain.IsZero()
}

// OracleCap returns RateSwap as the decimal floor applied to oracle quotes.
func (t SwapTokenData) OracleCap() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(t.RateSwap), -OracleRateScale)
}

func (t SwapTokenData) String() string {
	return fmt.Sprintf("%s swap=%d base=%d fee=%dbps oracle=%t", t.Mint, t.RateSwap, t.RateBase, t.FeesBps, t.OracleRates)
}
