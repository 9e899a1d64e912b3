package socket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// OracleQuoteMutation carries a live oracle price for a quote track.
const OracleQuoteMutation = "oracleQuote"

// OracleSink receives oracle quotes. *quote.Engine satisfies it.
type OracleSink interface {
	SetOracleQuote(track string, value decimal.Decimal)
}

type oracleQuoteMessage struct {
	Mutation string      `json:"mutation"`
	Track    string      `json:"track"`
	Quote    interface{} `json:"quote"`
}

// OracleQuoteHandler feeds {"mutation":"oracleQuote","track":..,"quote":..} into sink.
// The quote may be a JSON number or string.
func OracleQuoteHandler(sink OracleSink) Handler {
	return func(payload json.RawMessage) error {
		var msg oracleQuoteMessage
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&msg); err != nil {
			return fmt.Errorf("invalid oracle quote: %w", err)
		}
		if msg.Track == "" {
			return fmt.Errorf("oracle quote without track")
		}

		raw, err := cast.ToStringE(msg.Quote)
		if err != nil {
			return fmt.Errorf("oracle quote %s: %w", msg.Track, err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("oracle quote %s: %w", msg.Track, err)
		}

		sink.SetOracleQuote(msg.Track, value)
		return nil
	}
}
