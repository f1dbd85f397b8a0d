// Package quotes resolves the current bid/ask for a ticker symbol.
package quotes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnavailable   = errors.New("quote unavailable")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

type Quote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	AsOf   time.Time       `json:"as_of"`
}

// Valid reports whether both sides are positive.
func (q Quote) Valid() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

type Gateway interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
