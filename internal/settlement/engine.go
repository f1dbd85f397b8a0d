// Package settlement executes market orders against a user's cash balance and
// lots. A buy debits cash and opens a lot at the ask; a sell draws lots down
// lowest cost first and credits the proceeds at the bid. Every settlement runs
// inside one per-user unit of work and either applies in full or not at all.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"papertrade/internal/currency"
	"papertrade/internal/events"
	"papertrade/internal/metrics"
	"papertrade/internal/model"
	"papertrade/internal/quotes"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// sharePrecision bounds the fractional part of an auto-reduced buy so that
// shares x price never exceeds the balance it was derived from.
const sharePrecision = 8

const EventSettlement = "settlement"

type Publisher interface {
	Publish(evt events.Event)
}

type Options struct {
	// AutoReduce shrinks an underfunded buy to what the balance affords.
	AutoReduce bool
	// MinShares is the smallest reduced buy still worth executing.
	MinShares decimal.Decimal
	Currency  string
}

func DefaultOptions() Options {
	return Options{AutoReduce: true, MinShares: decimal.NewFromInt(1), Currency: currency.Default}
}

type Order struct {
	Symbol    string
	Side      types.OrderSide
	OrderType types.OrderType
	Shares    decimal.Decimal
	Notes     string
}

type Result struct {
	Success          bool            `json:"success"`
	Code             Code            `json:"code"`
	Symbol           string          `json:"symbol,omitempty"`
	Side             types.OrderSide `json:"side,omitempty"`
	SharesFilled     decimal.Decimal `json:"shares_filled"`
	PricePerShare    decimal.Decimal `json:"price_per_share"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	UnsoldOrUnfunded decimal.Decimal `json:"unsold_or_unfunded"`
	Balance          decimal.Decimal `json:"balance"`
	LedgerUID        string          `json:"ledger_uid,omitempty"`
	Message          string          `json:"message"`
}

type Engine struct {
	store   store.Store
	quotes  quotes.Gateway
	pub     Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
	newID   func() string
}

func New(st store.Store, q quotes.Gateway, pub Publisher, logger *slog.Logger, m *metrics.Metrics, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinShares.IsZero() {
		opts.MinShares = decimal.NewFromInt(1)
	}
	if opts.Currency == "" {
		opts.Currency = currency.Default
	}
	return &Engine{
		store:   st,
		quotes:  q,
		pub:     pub,
		logger:  logger,
		metrics: m,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SettleOrder never returns an error: every failure is reported through the
// Result's Code and Message, with nothing persisted.
func (e *Engine) SettleOrder(ctx context.Context, order Order, userID string) Result {
	start := e.now()
	order.Symbol = store.NormalizeSymbol(order.Symbol)

	res, err := e.settle(ctx, order, userID)
	if err != nil {
		res = Result{
			Success:          false,
			Code:             codeFor(err),
			Symbol:           order.Symbol,
			Side:             order.Side,
			UnsoldOrUnfunded: order.Shares,
			Message:          err.Error(),
		}
		level := slog.LevelWarn
		if res.Code == CodePersistence {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "settlement rejected", "user_id", userID, "symbol", order.Symbol, "side", order.Side, "shares", order.Shares.String(), "code", res.Code, "error", err)
	} else {
		e.logger.Info("settlement committed", "user_id", userID, "symbol", res.Symbol, "side", res.Side, "shares", res.SharesFilled.String(), "price", res.PricePerShare.String(), "ledger_uid", res.LedgerUID)
		if e.pub != nil {
			e.pub.Publish(events.Event{Type: EventSettlement, UserID: userID, Data: res})
		}
	}
	e.metrics.ObserveSettlement(string(order.Side), string(res.Code), e.now().Sub(start))
	return res
}

func (e *Engine) settle(ctx context.Context, order Order, userID string) (Result, error) {
	if err := validate(order, userID); err != nil {
		return Result{}, err
	}
	q, err := e.quotes.Quote(ctx, order.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, order.Symbol, err)
	}
	if !q.Valid() {
		return Result{}, fmt.Errorf("%w: %s has no bid/ask", ErrQuoteUnavailable, order.Symbol)
	}
	if order.Side == types.OrderSideBuy {
		return e.buy(ctx, order, userID, q.Ask)
	}
	return e.sell(ctx, order, userID, q.Bid)
}

func validate(order Order, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user", ErrUserNotFound)
	}
	if order.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !order.Side.Valid() {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if !order.OrderType.Known() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, order.OrderType)
	}
	if order.OrderType != types.OrderTypeMarket {
		return fmt.Errorf("%w: %s orders are not supported", ErrInvalidOrder, order.OrderType)
	}
	if !order.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be greater than zero", ErrInvalidOrder)
	}
	return nil
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) buy(ctx context.Context, order Order, userID string, ask decimal.Decimal) (Result, error) {
	var res Result
	err := e.store.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		res = Result{}
		balance, err := loadBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		shares := order.Shares
		total := shares.Mul(ask)
		if balance.LessThan(total) {
			if !e.opts.AutoReduce {
				return fmt.Errorf("%w: %s needed, %s available", ErrInsufficientFunds,
					currency.Format(total, e.opts.Currency), currency.Format(balance, e.opts.Currency))
			}
			maxShares := affordableShares(balance, ask)
			if maxShares.LessThan(e.opts.MinShares) {
				return fmt.Errorf("%w: %s buys less than %s shares of %s", ErrInsufficientFunds,
					currency.Format(balance, e.opts.Currency), e.opts.MinShares, order.Symbol)
			}
			e.logger.Warn("reducing underfunded buy", "user_id", userID, "symbol", order.Symbol, "requested", order.Shares.String(), "affordable", maxShares.String())
			shares = maxShares
			total = shares.Mul(ask)
		}

		ts := e.timestamp()
		entry, err := tx.Ledger().Append(ctx, model.LedgerEntry{
			UID:          e.newID(),
			OwnerID:      userID,
			Symbol:       order.Symbol,
			Side:         types.OrderSideBuy,
			OrderType:    order.OrderType,
			Shares:       shares,
			CostPerShare: ask,
			TotalCost:    total,
			Status:       types.LotStatusTracked,
			Notes:        order.Notes,
			Timestamp:    ts,
		})
		if err != nil {
			return fmt.Errorf("%w: append ledger entry: %w", ErrPersistence, err)
		}
		lot := model.Lot{
			ID:           e.newID(),
			OwnerID:      userID,
			Symbol:       order.Symbol,
			Side:         types.OrderSideBuy,
			OrderType:    order.OrderType,
			Shares:       shares,
			CostPerShare: ask,
			TotalCost:    total,
			Status:       types.LotStatusTracked,
			LedgerUID:    entry.UID,
			Timestamp:    ts,
		}
		if err := tx.Lots().Insert(ctx, lot); err != nil {
			return fmt.Errorf("%w: insert lot: %w", ErrPersistence, err)
		}
		next := balance.Sub(total)
		if err := setBalance(ctx, tx, userID, balance, next); err != nil {
			return err
		}

		res = Result{
			Success:          true,
			Code:             CodeOK,
			Symbol:           order.Symbol,
			Side:             types.OrderSideBuy,
			SharesFilled:     shares,
			PricePerShare:    ask,
			TotalAmount:      total,
			UnsoldOrUnfunded: order.Shares.Sub(shares),
			Balance:          next,
			LedgerUID:        entry.UID,
		}
		return nil
	})
	if err != nil {
		return Result{}, e.wrapStoreErr(err)
	}
	res.Message = fmt.Sprintf("Bought %s shares of %s at %s for %s", res.SharesFilled, res.Symbol,
		currency.Format(res.PricePerShare, e.opts.Currency), currency.Format(res.TotalAmount, e.opts.Currency))
	if res.UnsoldOrUnfunded.IsPositive() {
		res.Message += fmt.Sprintf("; %s shares could not be funded", res.UnsoldOrUnfunded)
	}
	return res, nil
}

func (e *Engine) sell(ctx context.Context, order Order, userID string, bid decimal.Decimal) (Result, error) {
	var res Result
	err := e.store.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		res = Result{}
		balance, err := loadBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		revenue, unsold, err := e.matchAndConsume(ctx, tx, userID, order.Symbol, order.Shares, bid)
		if err != nil {
			return fmt.Errorf("%w: consume lots: %w", ErrPersistence, err)
		}
		sold := order.Shares.Sub(unsold)

		entry, err := tx.Ledger().Append(ctx, model.LedgerEntry{
			UID:          e.newID(),
			OwnerID:      userID,
			Symbol:       order.Symbol,
			Side:         types.OrderSideSell,
			OrderType:    order.OrderType,
			Shares:       sold,
			CostPerShare: bid,
			TotalCost:    revenue,
			Status:       types.LotStatusArchived,
			Notes:        order.Notes,
			Timestamp:    e.timestamp(),
		})
		if err != nil {
			return fmt.Errorf("%w: append ledger entry: %w", ErrPersistence, err)
		}
		next := balance.Add(revenue)
		if err := setBalance(ctx, tx, userID, balance, next); err != nil {
			return err
		}

		res = Result{
			Success:          true,
			Code:             CodeOK,
			Symbol:           order.Symbol,
			Side:             types.OrderSideSell,
			SharesFilled:     sold,
			PricePerShare:    bid,
			TotalAmount:      revenue,
			UnsoldOrUnfunded: unsold,
			Balance:          next,
			LedgerUID:        entry.UID,
		}
		return nil
	})
	if err != nil {
		return Result{}, e.wrapStoreErr(err)
	}
	res.Message = fmt.Sprintf("Sold %s shares of %s at %s for %s", res.SharesFilled, res.Symbol,
		currency.Format(res.PricePerShare, e.opts.Currency), currency.Format(res.TotalAmount, e.opts.Currency))
	if res.UnsoldOrUnfunded.IsPositive() {
		res.Message += fmt.Sprintf("; %s shares were not held and remain unsold", res.UnsoldOrUnfunded)
	}
	return res, nil
}

// affordableShares is balance/ask floored to sharePrecision places. DivRound
// may round the last digit up, so the result is stepped down until it fits.
func affordableShares(balance, ask decimal.Decimal) decimal.Decimal {
	unit := decimal.New(1, -sharePrecision)
	shares := balance.DivRound(ask, 2*sharePrecision).Truncate(sharePrecision)
	for shares.IsPositive() && shares.Mul(ask).GreaterThan(balance) {
		shares = shares.Sub(unit)
	}
	return shares
}

func loadBalance(ctx context.Context, tx store.Tx, userID string) (decimal.Decimal, error) {
	balance, err := tx.Balances().Balance(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: load balance: %w", ErrPersistence, err)
	}
	return balance, nil
}

func setBalance(ctx context.Context, tx store.Tx, userID string, prev, next decimal.Decimal) error {
	if next.IsNegative() {
		return fmt.Errorf("%w: balance would become %s", ErrInsufficientFunds, next)
	}
	if err := tx.Balances().SetBalance(ctx, userID, prev, next); err != nil {
		return fmt.Errorf("%w: update balance: %w", ErrPersistence, err)
	}
	return nil
}

// wrapStoreErr keeps engine sentinels and classifies anything raised by the
// unit of work itself (begin, lock, commit) as a persistence failure.
func (e *Engine) wrapStoreErr(err error) error {
	for _, sentinel := range []error{ErrInvalidOrder, ErrQuoteUnavailable, ErrInsufficientFunds, ErrUserNotFound, ErrPersistence} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
