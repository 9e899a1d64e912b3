package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solcheckout/pkg/config"
	"solcheckout/pkg/metrics"
	"solcheckout/pkg/swapdata"
)

var (
	// ErrNoOracleQuote is returned when a route prices from an oracle track with no quote yet.
	ErrNoOracleQuote = errors.New("no oracle quote")
	// ErrZeroRate is returned when a route rate would divide by zero.
	ErrZeroRate = errors.New("zero swap rate")
	// ErrInvalidAmount is returned for non numeric or negative input amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnknownOrderType is returned for order types other than buy and sell.
	ErrUnknownOrderType = errors.New("unknown order type")
)

// divisionPrecision matches the 64 significant digits the web client evaluated with.
const divisionPrecision = 64

// oraclePlaces is the precision oracle quotes are rounded to before use.
const oraclePlaces = 6

const feeDenominator = 10000

type OrderType string

const (
	// Sell quotes how much of the destination token an input amount buys.
	Sell OrderType = "sell"
	// Buy quotes how much of the source token a wanted output costs.
	Buy OrderType = "buy"
)

// ParseOrderType accepts "buy" or "sell" in any case; empty means sell.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case Sell, "":
		return Sell, nil
	case Buy:
		return Buy, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrderType, s)
}

// Result of a quote. Amounts are integer base units.
type Result struct {
	Amount           math.Int `json:"amount"`
	ViewAmount       string   `json:"viewAmount"`
	FromAmountTokens math.Int `json:"fromAmountTokens"`
}

// SwapDataSource returns decoded swap data accounts. *swapdata.Cache satisfies it.
type SwapDataSource interface {
	Get(ctx context.Context, address solana.PublicKey) (swapdata.SwapData, error)
}

// Engine prices swaps from on-chain route data and live oracle quotes.
type Engine struct {
	swaps SwapDataSource

	mu     sync.RWMutex
	oracle map[string]decimal.Decimal
}

func NewEngine(swaps SwapDataSource) *Engine {
	return &Engine{
		swaps:  swaps,
		oracle: make(map[string]decimal.Decimal),
	}
}

// SetOracleQuote records the latest quote for an oracle track.
func (e *Engine) SetOracleQuote(track string, value decimal.Decimal) {
	e.mu.Lock()
	e.oracle[track] = value
	e.mu.Unlock()
}

// OracleQuote returns the latest quote for track.
func (e *Engine) OracleQuote(track string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.oracle[track]
	return v, ok
}

// OracleQuotes returns a copy of the quote table.
func (e *Engine) OracleQuotes() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(e.oracle))
	for k, v := range e.oracle {
		out[k] = v
	}
	return out
}

// QuoteAmount prices fromAmount (a display amount, commas allowed) along the swap route.
// For a sell fromAmount is denominated in from, for a buy in to.
func (e *Engine) QuoteAmount(ctx context.Context, to, from config.TokenSpec, swap config.SwapSpec, fromAmount string, orderType OrderType) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordQuote(string(orderType), err, time.Since(start))
	}()

	address, err := solana.PublicKeyFromBase58(swap.SwapData)
	if err != nil {
		return Result{}, fmt.Errorf("invalid swap data address: %w", err)
	}
	sd, err := e.swaps.Get(ctx, address)
	if err != nil {
		return Result{}, err
	}

	var oracleVal *decimal.Decimal
	tok := sd.Side(swap.SwapDirection)
	if tok.OracleRates {
		v, ok := e.OracleQuote(swap.OracleTrack)
		if !ok {
			return Result{}, fmt.Errorf("%w: track %q", ErrNoOracleQuote, swap.OracleTrack)
		}
		oracleVal = &v
	}

	return Compute(tok, to, from, fromAmount, orderType, oracleVal)
}

// Compute is the pure pricing step of QuoteAmount. oracleVal must be set when
// tok prices from an oracle.
func Compute(tok swapdata.SwapTokenData, to, from config.TokenSpec, fromAmount string, orderType OrderType, oracleVal *decimal.Decimal) (Result, error) {
	amount, err := ParseAmount(fromAmount)
	if err != nil {
		return Result{}, err
	}

	swapRate, baseRate, err := rates(tok, to, from, oracleVal)
	if err != nil {
		return Result{}, err
	}
	fee := decimal.NewFromInt(int64(tok.FeesBps))

	var tokens, out decimal.Decimal
	var view string
	switch orderType {
	case Sell:
		if swapRate.IsZero() {
			return Result{}, ErrZeroRate
		}
		tokens = amount.Shift(from.Decimals).Floor()
		net := tokens.Sub(tokens.Mul(fee).DivRound(decimal.NewFromInt(feeDenominator), divisionPrecision))
		out = net.Mul(baseRate).DivRound(swapRate, divisionPrecision).Floor()
		view = out.Shift(-to.Decimals).StringFixed(to.ViewDecimals)
	case Buy:
		if baseRate.IsZero() {
			return Result{}, ErrZeroRate
		}
		tokens = amount.Shift(to.Decimals).Floor()
		gross := tokens.Add(tokens.Mul(fee).DivRound(decimal.NewFromInt(feeDenominator), divisionPrecision))
		out = gross.Mul(swapRate).DivRound(baseRate, divisionPrecision).Floor()
		view = out.Shift(-from.Decimals).StringFixed(from.ViewDecimals)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOrderType, orderType)
	}

	return Result{
		Amount:           math.NewIntFromBigInt(out.BigInt()),
		ViewAmount:       view,
		FromAmountTokens: math.NewIntFromBigInt(tokens.BigInt()),
	}, nil
}

func rates(tok swapdata.SwapTokenData, to, from config.TokenSpec, oracleVal *decimal.Decimal) (swapRate, baseRate decimal.Decimal, err error) {
	if !tok.OracleRates {
		return decimal.NewFromBigInt(bigFromUint64(tok.RateSwap), 0), decimal.NewFromBigInt(bigFromUint64(tok.RateBase), 0), nil
	}
	if oracleVal == nil {
		return decimal.Zero, decimal.Zero, ErrNoOracleQuote
	}

	ddf := from.Decimals - to.Decimals
	if ddf < 0 {
		ddf = -ddf
	}
	scale := decimal.New(1, ddf)

	val := oracleVal.Round(oraclePlaces)
	if tok.OracleMax {
		val = decimal.Max(val, tok.OracleCap())
	}

	if tok.OracleInverse {
		return val, scale, nil
	}
	return scale, val, nil
}

// ParseAmount reads a display amount. Empty input is zero and thousands separators are ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	return d, nil
}

// ViewTokens formats a base unit amount with the token's display precision.
func ViewTokens(token config.TokenSpec, tokens math.Int) string {
	return decimal.NewFromBigInt(tokens.BigInt(), -token.Decimals).StringFixed(token.ViewDecimals)
}

func bigFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
