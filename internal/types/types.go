package types

type OrderSide string

type OrderType string

type LotStatus string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	LotStatusPending  LotStatus = "pending"
	LotStatusTracked  LotStatus = "tracked"
	LotStatusArchived LotStatus = "archived"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Known reports whether t is an order type clients may name. Only market
// orders are executable.
func (t OrderType) Known() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

func (s LotStatus) Valid() bool {
	switch s {
	case LotStatusPending, LotStatusTracked, LotStatusArchived:
		return true
	}
	return false
}
