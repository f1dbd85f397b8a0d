// Package store defines the persistence contracts used by settlement: a per-user
// lot store, an append-only ledger and the user balance, all reached through a
// unit of work that serializes access per user.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUserExists      = errors.New("user already exists")
	ErrBalanceConflict = errors.New("balance changed concurrently")
)

type LotStore interface {
	Insert(ctx context.Context, lot model.Lot) error
	Get(ctx context.Context, ownerID, lotID string) (model.Lot, error)
	// ListBySymbolSide returns lots in no particular order.
	ListBySymbolSide(ctx context.Context, ownerID, symbol string, side types.OrderSide) ([]model.Lot, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Lot, error)
	UpdateShares(ctx context.Context, ownerID, lotID string, shares decimal.Decimal) error
	UpdateStatus(ctx context.Context, ownerID, lotID string, status types.LotStatus) error
	Delete(ctx context.Context, ownerID string, lotIDs ...string) error
}

type LedgerFilter struct {
	Symbol string
	Limit  int
}

type LedgerStore interface {
	// Append fills PrevHash and Hash and returns the stored entry.
	Append(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error)
	UpdateStatus(ctx context.Context, ownerID, uid string, status types.LotStatus) error
	// ListByOwner returns entries newest first.
	ListByOwner(ctx context.Context, ownerID string, filter LedgerFilter) ([]model.LedgerEntry, error)
}

type BalanceStore interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// SetBalance writes next only if the stored balance still equals prev.
	SetBalance(ctx context.Context, userID string, prev, next decimal.Decimal) error
}

// Tx is the view of the stores inside one unit of work.
type Tx interface {
	Lots() LotStore
	Ledger() LedgerStore
	Balances() BalanceStore
}

type Store interface {
	// WithinUser runs fn holding the user's exclusive lock. Writes made through tx
	// are applied only if fn returns nil. fn may be invoked more than once when the
	// backend retries a serialization failure.
	WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	UserByID(ctx context.Context, id string) (model.User, error)
	// UserByLogin matches either email or username.
	UserByLogin(ctx context.Context, login string) (model.User, error)
	// DeleteUser removes the user together with their lots and ledger.
	DeleteUser(ctx context.Context, id string) error
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ChainHash links entry to the previous entry of the same owner. Status is left
// out because it is the one field allowed to change after append.
func ChainHash(prevHash string, e model.LedgerEntry) string {
	buf := e.UID + "|" + e.OwnerID + "|" + e.Symbol + "|" + string(e.Side) + "|" + string(e.OrderType) + "|" +
		e.Shares.String() + "|" + e.CostPerShare.String() + "|" + e.TotalCost.String() + "|" +
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00") + "|" + e.Notes + "|" + prevHash
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks entries given oldest first.
func VerifyChain(entries []model.LedgerEntry) error {
	prev := ""
	for _, e := range entries {
		if e.PrevHash != prev {
			return errors.New("ledger chain broken at " + e.UID)
		}
		if ChainHash(prev, e) != e.Hash {
			return errors.New("ledger hash mismatch at " + e.UID)
		}
		prev = e.Hash
	}
	return nil
}
