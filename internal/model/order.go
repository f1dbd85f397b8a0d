package model

import (
	"time"

	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// Lot is one buy transaction that still has unsold shares.
type Lot struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Symbol       string          `json:"symbol"`
	Side         types.OrderSide `json:"side"`
	OrderType    types.OrderType `json:"order_type"`
	Shares       decimal.Decimal `json:"shares"`
	CostPerShare decimal.Decimal `json:"cost_per_share"`
	// TotalCost is fixed at creation and not kept in sync with Shares.
	TotalCost decimal.Decimal `json:"total_cost"`
	Status    types.LotStatus `json:"status"`
	LedgerUID string          `json:"ledger_uid"`
	Timestamp time.Time       `json:"timestamp"`
}

// CurrentCost is the cost basis of the shares still held.
func (l Lot) CurrentCost() decimal.Decimal {
	return l.Shares.Mul(l.CostPerShare)
}

type LedgerEntry struct {
	UID          string          `json:"uid"`
	OwnerID      string          `json:"owner_id"`
	Symbol       string          `json:"symbol"`
	Side         types.OrderSide `json:"side"`
	OrderType    types.OrderType `json:"order_type"`
	Shares       decimal.Decimal `json:"shares"`
	CostPerShare decimal.Decimal `json:"cost_per_share"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Status       types.LotStatus `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	PrevHash     string          `json:"prev_hash,omitempty"`
	Hash         string          `json:"hash,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type User struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
}
