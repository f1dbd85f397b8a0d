package settlement

import (
	"context"
	"testing"

	"papertrade/internal/model"
	"papertrade/internal/quotes"
	"papertrade/internal/store"
	"papertrade/internal/store/memory"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Random order streams must never overdraw the balance and must keep the held
// shares equal to bought minus sold.
func TestSettlementInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		mem := memory.New()
		start := decimal.NewFromInt(int64(rapid.IntRange(0, 5000).Draw(t, "balance")))
		if _, err := mem.CreateUser(ctx, model.User{ID: testUser, Email: "p@example.com", Username: "p", Balance: start}); err != nil {
			t.Fatalf("create user: %v", err)
		}
		q := quotes.NewStatic()
		opts := DefaultOptions()
		opts.AutoReduce = rapid.Bool().Draw(t, "auto_reduce")
		engine := New(mem, q, nil, nil, nil, opts)

		symbols := []string{"AAPL", "MSFT"}
		bought := map[string]decimal.Decimal{}
		sold := map[string]decimal.Decimal{}
		cash := start

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			symbol := rapid.SampledFrom(symbols).Draw(t, "symbol")
			bid := decimal.NewFromInt(int64(rapid.IntRange(1, 200).Draw(t, "bid")))
			ask := bid.Add(decimal.NewFromInt(int64(rapid.IntRange(0, 5).Draw(t, "spread"))))
			q.Set(symbol, bid, ask)

			side := rapid.SampledFrom([]types.OrderSide{types.OrderSideBuy, types.OrderSideSell}).Draw(t, "side")
			shares := decimal.NewFromInt(int64(rapid.IntRange(-2, 30).Draw(t, "shares")))
			res := engine.SettleOrder(ctx, Order{Symbol: symbol, Side: side, OrderType: types.OrderTypeMarket, Shares: shares}, testUser)

			if !shares.IsPositive() && res.Success {
				t.Fatalf("non-positive order settled: %+v", res)
			}
			if res.Success {
				switch side {
				case types.OrderSideBuy:
					bought[symbol] = bought[symbol].Add(res.SharesFilled)
					cash = cash.Sub(res.TotalAmount)
				case types.OrderSideSell:
					sold[symbol] = sold[symbol].Add(res.SharesFilled)
					cash = cash.Add(res.TotalAmount)
				}
				if !res.SharesFilled.Add(res.UnsoldOrUnfunded).Equal(shares) {
					t.Fatalf("filled %s + unfilled %s != requested %s", res.SharesFilled, res.UnsoldOrUnfunded, shares)
				}
			}

			u, err := mem.UserByID(ctx, testUser)
			if err != nil {
				t.Fatalf("load user: %v", err)
			}
			if u.Balance.IsNegative() {
				t.Fatalf("balance went negative: %s", u.Balance)
			}
			if !u.Balance.Equal(cash) {
				t.Fatalf("balance %s, expected %s", u.Balance, cash)
			}
		}

		err := mem.WithinUser(ctx, testUser, func(ctx context.Context, tx store.Tx) error {
			for _, symbol := range symbols {
				lots, err := tx.Lots().ListBySymbolSide(ctx, testUser, symbol, types.OrderSideBuy)
				if err != nil {
					return err
				}
				held := decimal.Zero
				for _, l := range lots {
					if l.Shares.IsNegative() {
						t.Fatalf("negative lot %s", l.ID)
					}
					held = held.Add(l.Shares)
				}
				if want := bought[symbol].Sub(sold[symbol]); !held.Equal(want) {
					t.Fatalf("%s holds %s, expected %s", symbol, held, want)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("inspect lots: %v", err)
		}
	})
}
