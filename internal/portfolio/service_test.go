package portfolio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"papertrade/internal/model"
	"papertrade/internal/quotes"
	"papertrade/internal/settlement"
	"papertrade/internal/store"
	"papertrade/internal/store/memory"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *settlement.Engine, *quotes.Static) {
	t.Helper()
	mem := memory.New()
	_, err := mem.CreateUser(context.Background(), model.User{ID: "u-1", Email: "a@example.com", Username: "a", Balance: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	q := quotes.NewStatic()
	engine := settlement.New(mem, q, nil, nil, nil, settlement.DefaultOptions())
	return NewService(mem, q, "USD", nil), engine, q
}

func trade(t *testing.T, e *settlement.Engine, symbol string, side types.OrderSide, shares int64) {
	t.Helper()
	res := e.SettleOrder(context.Background(), settlement.Order{Symbol: symbol, Side: side, OrderType: types.OrderTypeMarket, Shares: decimal.NewFromInt(shares)}, "u-1")
	require.True(t, res.Success, res.Message)
}

func TestSummary(t *testing.T) {
	svc, engine, q := setup(t)
	q.Set("AAPL", decimal.NewFromInt(10), decimal.NewFromInt(10))
	trade(t, engine, "AAPL", types.OrderSideBuy, 5)
	q.Set("AAPL", decimal.NewFromInt(20), decimal.NewFromInt(20))
	trade(t, engine, "AAPL", types.OrderSideBuy, 5)
	q.Set("MSFT", decimal.NewFromInt(50), decimal.NewFromInt(50))
	trade(t, engine, "MSFT", types.OrderSideBuy, 2)
	q.Remove("MSFT")
	q.Set("AAPL", decimal.NewFromInt(30), decimal.NewFromInt(31))

	s, err := svc.Summary(context.Background(), "u-1")
	require.NoError(t, err)

	assert.Equal(t, "750", s.Balance.String())
	assert.Equal(t, "$750.00", s.BalanceDisplay)
	require.Len(t, s.Holdings, 2)

	aapl := s.Holdings[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.Equal(t, "10", aapl.Shares.String())
	assert.Equal(t, "150", aapl.CostBasis.String())
	assert.Equal(t, "15", aapl.AvgCost.String())
	assert.Equal(t, "300", aapl.MarketValue.String())
	assert.Equal(t, "150", aapl.UnrealizedPL.String())
	assert.True(t, aapl.Priced)
	assert.Len(t, aapl.Lots, 2)

	msft := s.Holdings[1]
	assert.False(t, msft.Priced)
	assert.Equal(t, "100", msft.MarketValue.String())

	assert.Equal(t, "400", s.MarketValue.String())
	assert.Equal(t, "1150", s.TotalValue.String())
}

func TestHistory(t *testing.T) {
	svc, engine, q := setup(t)
	q.Set("AAPL", decimal.NewFromInt(10), decimal.NewFromInt(10))
	q.Set("MSFT", decimal.NewFromInt(10), decimal.NewFromInt(10))
	trade(t, engine, "AAPL", types.OrderSideBuy, 1)
	trade(t, engine, "MSFT", types.OrderSideBuy, 1)
	trade(t, engine, "AAPL", types.OrderSideSell, 1)

	all, err := svc.History(context.Background(), "u-1", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.OrderSideSell, all[0].Side)

	aapl, err := svc.History(context.Background(), "u-1", "aapl", 0)
	require.NoError(t, err)
	assert.Len(t, aapl, 2)

	limited, err := svc.History(context.Background(), "u-1", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = svc.History(context.Background(), "ghost", "", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandlerUnknownUser(t *testing.T) {
	svc, _, _ := setup(t)
	h := NewHandler(svc)
	rec := httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/v1/portfolio", nil), "ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/history?limit=x", nil), "u-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
