package quotes

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Static serves quotes held in memory. It backs the memory store mode and
// tests, and can be fed from any source through Set.
type Static struct {
	mu   sync.RWMutex
	data map[string]Quote
	now  func() time.Time
}

func NewStatic() *Static {
	return &Static{data: map[string]Quote{}, now: time.Now}
}

func (s *Static) Set(symbol string, bid, ask decimal.Decimal) {
	symbol = normalize(symbol)
	if symbol == "" || !bid.IsPositive() || !ask.IsPositive() {
		return
	}
	s.mu.Lock()
	s.data[symbol] = Quote{Symbol: symbol, Bid: bid, Ask: ask, AsOf: s.now()}
	s.mu.Unlock()
}

func (s *Static) Remove(symbol string) {
	s.mu.Lock()
	delete(s.data, normalize(symbol))
	s.mu.Unlock()
}

func (s *Static) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	s.mu.RLock()
	q, ok := s.data[normalize(symbol)]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnknownSymbol
	}
	return q, nil
}
