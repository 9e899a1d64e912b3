package quote

import (
	"errors"
	"fmt"

	"solcheckout/pkg/config"
)

// ErrUnknownRoute is returned when a swap key or token symbol is not configured.
var ErrUnknownRoute = errors.New("unknown quote route")

// Route is everything QuoteAmount needs about one configured swap.
type Route struct {
	Swap config.SwapSpec
	From config.TokenSpec
	To   config.TokenSpec
}

// ResolveRoute looks up swapKey and its tokens. fromSymbol and toSymbol override
// the swap's from_token and to_token when set.
func ResolveRoute(cfg config.Config, swapKey, fromSymbol, toSymbol string) (Route, error) {
	swap, ok := cfg.Swap(swapKey)
	if !ok {
		return Route{}, fmt.Errorf("%w: swap %q", ErrUnknownRoute, swapKey)
	}
	if fromSymbol == "" {
		fromSymbol = swap.FromToken
	}
	if toSymbol == "" {
		toSymbol = swap.ToToken
	}

	from, ok := cfg.Token(fromSymbol)
	if !ok {
		return Route{}, fmt.Errorf("%w: from token %q", ErrUnknownRoute, fromSymbol)
	}
	to, ok := cfg.Token(toSymbol)
	if !ok {
		return Route{}, fmt.Errorf("%w: to token %q", ErrUnknownRoute, toSymbol)
	}
	return Route{Swap: swap, From: from, To: to}, nil
}
