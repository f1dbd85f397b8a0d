// Package portfolio reports a user's cash, open lots and trade history.
package portfolio

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"papertrade/internal/currency"
	"papertrade/internal/model"
	"papertrade/internal/quotes"
	"papertrade/internal/store"

	"github.com/shopspring/decimal"
)

const maxHistory = 500

type Holding struct {
	Symbol       string          `json:"symbol"`
	Shares       decimal.Decimal `json:"shares"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	Bid          decimal.Decimal `json:"bid"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	Priced       bool            `json:"priced"`
	Lots         []model.Lot     `json:"lots"`
}

type Summary struct {
	UserID         string          `json:"user_id"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
	MarketValue    decimal.Decimal `json:"market_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalDisplay   string          `json:"total_display"`
	Holdings       []Holding       `json:"holdings"`
}

type Service struct {
	store    store.Store
	quotes   quotes.Gateway
	currency string
	logger   *slog.Logger
}

func NewService(st store.Store, q quotes.Gateway, currencyCode string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, quotes: q, currency: currencyCode, logger: logger}
}

// Summary values holdings at the current bid. Symbols without a quote are
// listed at cost with Priced=false.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	var balance decimal.Decimal
	var lots []model.Lot
	err := s.store.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		if balance, err = tx.Balances().Balance(ctx, userID); err != nil {
			return err
		}
		lots, err = tx.Lots().ListByOwner(ctx, userID)
		return err
	})
	if err != nil {
		return Summary{}, err
	}

	bySymbol := map[string]*Holding{}
	var order []string
	for _, l := range lots {
		if !l.Shares.IsPositive() {
			continue
		}
		h, ok := bySymbol[l.Symbol]
		if !ok {
			h = &Holding{Symbol: l.Symbol}
			bySymbol[l.Symbol] = h
			order = append(order, l.Symbol)
		}
		h.Shares = h.Shares.Add(l.Shares)
		h.CostBasis = h.CostBasis.Add(l.CurrentCost())
		h.Lots = append(h.Lots, l)
	}
	sort.Strings(order)

	out := Summary{UserID: userID, Currency: s.currency, Balance: balance, Holdings: make([]Holding, 0, len(order))}
	for _, symbol := range order {
		h := bySymbol[symbol]
		h.AvgCost = h.CostBasis.DivRound(h.Shares, 8)
		h.MarketValue = h.CostBasis
		if q, err := s.quotes.Quote(ctx, symbol); err == nil && q.Valid() {
			h.Bid = q.Bid
			h.MarketValue = h.Shares.Mul(q.Bid)
			h.Priced = true
		} else {
			s.logger.Warn("holding valued at cost", "symbol", symbol, "error", err)
		}
		h.UnrealizedPL = h.MarketValue.Sub(h.CostBasis)
		out.MarketValue = out.MarketValue.Add(h.MarketValue)
		out.Holdings = append(out.Holdings, *h)
	}
	out.TotalValue = balance.Add(out.MarketValue)
	out.BalanceDisplay = currency.Format(balance, s.currency)
	out.TotalDisplay = currency.Format(out.TotalValue, s.currency)
	return out, nil
}

// History returns ledger entries newest first, optionally for one symbol.
func (s *Service) History(ctx context.Context, userID, symbol string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	var out []model.LedgerEntry
	err := s.store.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Balances().Balance(ctx, userID); err != nil {
			return err
		}
		var err error
		out, err = tx.Ledger().ListByOwner(ctx, userID, store.LedgerFilter{Symbol: strings.TrimSpace(symbol), Limit: limit})
		return err
	})
	if out == nil {
		out = []model.LedgerEntry{}
	}
	return out, err
}
