package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"papertrade/internal/events"
	"papertrade/internal/model"
	"papertrade/internal/quotes"
	"papertrade/internal/store"
	"papertrade/internal/store/memory"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "u-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

type fixture struct {
	engine *Engine
	mem    *memory.Store
	quotes *quotes.Static
	pub    *recordingPublisher
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	mem := memory.New()
	_, err := mem.CreateUser(context.Background(), model.User{
		ID:       testUser,
		Email:    "trader@example.com",
		Username: "trader",
		Balance:  dec(balance),
	})
	require.NoError(t, err)
	q := quotes.NewStatic()
	pub := &recordingPublisher{}
	return &fixture{
		engine: New(mem, q, pub, nil, nil, DefaultOptions()),
		mem:    mem,
		quotes: q,
		pub:    pub,
	}
}

func (f *fixture) quote(symbol, bid, ask string) {
	f.quotes.Set(symbol, dec(bid), dec(ask))
}

func (f *fixture) market(symbol string, side types.OrderSide, shares string) Result {
	return f.engine.SettleOrder(context.Background(), Order{
		Symbol:    symbol,
		Side:      side,
		OrderType: types.OrderTypeMarket,
		Shares:    dec(shares),
	}, testUser)
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.mem.UserByID(context.Background(), testUser)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) lots(t *testing.T, symbol string) []model.Lot {
	t.Helper()
	var out []model.Lot
	err := f.mem.WithinUser(context.Background(), testUser, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Lots().ListBySymbolSide(ctx, testUser, symbol, types.OrderSideBuy)
		sortLots(out)
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) ledger(t *testing.T) []model.LedgerEntry {
	t.Helper()
	var out []model.LedgerEntry
	err := f.mem.WithinUser(context.Background(), testUser, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Ledger().ListByOwner(ctx, testUser, store.LedgerFilter{})
		return err
	})
	require.NoError(t, err)
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func TestBuyDebitsBalanceAndOpensLot(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "99", "100")

	res := f.market("aapl", types.OrderSideBuy, "3")

	require.True(t, res.Success, res.Message)
	assert.Equal(t, CodeOK, res.Code)
	assertDec(t, "3", res.SharesFilled)
	assertDec(t, "100", res.PricePerShare)
	assertDec(t, "300", res.TotalAmount)
	assertDec(t, "0", res.UnsoldOrUnfunded)
	assertDec(t, "700", res.Balance)
	assertDec(t, "700", f.balance(t))
	assert.Contains(t, res.Message, "$100.00")

	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 1)
	assertDec(t, "3", lots[0].Shares)
	assertDec(t, "100", lots[0].CostPerShare)
	assert.Equal(t, types.LotStatusTracked, lots[0].Status)
	assert.Equal(t, res.LedgerUID, lots[0].LedgerUID)
	assert.NotEqual(t, lots[0].ID, lots[0].LedgerUID)

	entries := f.ledger(t)
	require.Len(t, entries, 1)
	assert.Equal(t, types.OrderSideBuy, entries[0].Side)
	assert.Equal(t, types.LotStatusTracked, entries[0].Status)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, EventSettlement, f.pub.events[0].Type)
	assert.Equal(t, testUser, f.pub.events[0].UserID)
}

func TestBuyAutoReducesToAffordableShares(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("XYZ", "24", "25")

	res := f.market("XYZ", types.OrderSideBuy, "50")

	require.True(t, res.Success, res.Message)
	assertDec(t, "40", res.SharesFilled)
	assertDec(t, "10", res.UnsoldOrUnfunded)
	assertDec(t, "1000", res.TotalAmount)
	assertDec(t, "0", f.balance(t))
	assert.Contains(t, res.Message, "could not be funded")

	lots := f.lots(t, "XYZ")
	require.Len(t, lots, 1)
	assertDec(t, "40", lots[0].Shares)
	assertDec(t, "25", lots[0].CostPerShare)
}

func TestBuyAutoReduceTruncatesFractionalShares(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("XYZ", "3", "3")

	res := f.market("XYZ", types.OrderSideBuy, "400")

	require.True(t, res.Success, res.Message)
	assertDec(t, "333.33333333", res.SharesFilled)
	assert.False(t, f.balance(t).IsNegative())
	assert.True(t, res.TotalAmount.LessThanOrEqual(dec("1000")))
}

func TestBuyAutoReduceNeverRoundsUpPastBalance(t *testing.T) {
	f := newFixture(t, "199.9999999999")
	f.quote("XYZ", "100", "100")

	res := f.market("XYZ", types.OrderSideBuy, "3")

	require.True(t, res.Success, res.Message)
	assert.Equal(t, CodeOK, res.Code)
	assertDec(t, "1.99999999", res.SharesFilled)
	assertDec(t, "199.999999", res.TotalAmount)
	assertDec(t, "0.0000009999", f.balance(t))
}

func TestAffordableShares(t *testing.T) {
	tests := []struct {
		balance, ask, want string
	}{
		{"1000", "25", "40"},
		{"1000", "3", "333.33333333"},
		{"199.9999999999", "100", "1.99999999"},
		{"0.99999999999999999", "1", "0.99999999"},
		{"5", "7", "0.71428571"},
		{"0", "10", "0"},
	}
	for _, tt := range tests {
		got := affordableShares(dec(tt.balance), dec(tt.ask))
		assertDec(t, tt.want, got, "balance %s ask %s", tt.balance, tt.ask)
		assert.True(t, got.Mul(dec(tt.ask)).LessThanOrEqual(dec(tt.balance)))
	}
}

func TestBuyInsufficientFunds(t *testing.T) {
	cases := []struct {
		name       string
		balance    string
		autoReduce bool
	}{
		{name: "below one share", balance: "50", autoReduce: true},
		{name: "auto reduce disabled", balance: "500", autoReduce: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.balance)
			opts := DefaultOptions()
			opts.AutoReduce = tc.autoReduce
			f.engine = New(f.mem, f.quotes, f.pub, nil, nil, opts)
			f.quote("AAPL", "99", "100")

			res := f.market("AAPL", types.OrderSideBuy, "10")

			assert.False(t, res.Success)
			assert.Equal(t, CodeInsufficientFunds, res.Code)
			assertDec(t, tc.balance, f.balance(t))
			assert.Empty(t, f.lots(t, "AAPL"))
			assert.Empty(t, f.ledger(t))
			assert.Empty(t, f.pub.events)
		})
	}
}

func TestInvalidOrdersAreRejectedWithoutMutation(t *testing.T) {
	cases := []struct {
		name  string
		order Order
	}{
		{"zero shares buy", Order{Symbol: "AAPL", Side: types.OrderSideBuy, OrderType: types.OrderTypeMarket, Shares: decimal.Zero}},
		{"negative shares sell", Order{Symbol: "AAPL", Side: types.OrderSideSell, OrderType: types.OrderTypeMarket, Shares: dec("-1")}},
		{"limit order", Order{Symbol: "AAPL", Side: types.OrderSideBuy, OrderType: types.OrderTypeLimit, Shares: dec("1")}},
		{"stop limit order", Order{Symbol: "AAPL", Side: types.OrderSideSell, OrderType: types.OrderTypeStopLimit, Shares: dec("1")}},
		{"unknown type", Order{Symbol: "AAPL", Side: types.OrderSideBuy, OrderType: "iceberg", Shares: dec("1")}},
		{"unknown side", Order{Symbol: "AAPL", Side: "short", OrderType: types.OrderTypeMarket, Shares: dec("1")}},
		{"missing symbol", Order{Symbol: "  ", Side: types.OrderSideBuy, OrderType: types.OrderTypeMarket, Shares: dec("1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "1000")
			f.quote("AAPL", "99", "100")
			require.True(t, f.market("AAPL", types.OrderSideBuy, "2").Success)

			res := f.engine.SettleOrder(context.Background(), tc.order, testUser)

			assert.False(t, res.Success)
			assert.Equal(t, CodeInvalidOrder, res.Code)
			assert.NotEmpty(t, res.Message)
			assertDec(t, "800", f.balance(t))
			lots := f.lots(t, "AAPL")
			require.Len(t, lots, 1)
			assertDec(t, "2", lots[0].Shares)
			assert.Len(t, f.ledger(t), 1)
		})
	}
}

func TestQuoteUnavailable(t *testing.T) {
	f := newFixture(t, "1000")

	for _, side := range []types.OrderSide{types.OrderSideBuy, types.OrderSideSell} {
		res := f.market("NOPE", side, "1")
		assert.False(t, res.Success)
		assert.Equal(t, CodeQuoteUnavailable, res.Code)
	}
	assertDec(t, "1000", f.balance(t))
	assert.Empty(t, f.ledger(t))
}

func TestUnknownUser(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "99", "100")

	res := f.engine.SettleOrder(context.Background(), Order{Symbol: "AAPL", Side: types.OrderSideBuy, OrderType: types.OrderTypeMarket, Shares: dec("1")}, "ghost")

	assert.False(t, res.Success)
	assert.Equal(t, CodeUserNotFound, res.Code)
}

func TestSellConsumesLowestCostFirst(t *testing.T) {
	f := newFixture(t, "10000")
	for _, ask := range []string{"10", "5", "20"} {
		f.quote("AAPL", ask, ask)
		require.True(t, f.market("AAPL", types.OrderSideBuy, "4").Success)
	}
	f.quote("AAPL", "30", "31")

	res := f.market("AAPL", types.OrderSideSell, "6")

	require.True(t, res.Success, res.Message)
	assertDec(t, "6", res.SharesFilled)
	assertDec(t, "180", res.TotalAmount)
	assertDec(t, "30", res.PricePerShare)

	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 2)
	assertDec(t, "10", lots[0].CostPerShare)
	assertDec(t, "2", lots[0].Shares)
	assertDec(t, "20", lots[1].CostPerShare)
	assertDec(t, "4", lots[1].Shares)
}

func TestSellExactlyCheapestLotLeavesOthersUntouched(t *testing.T) {
	f := newFixture(t, "10000")
	buys := map[string]Result{}
	for _, ask := range []string{"10", "5", "20"} {
		f.quote("AAPL", ask, ask)
		res := f.market("AAPL", types.OrderSideBuy, "4")
		require.True(t, res.Success, res.Message)
		buys[ask] = res
	}
	f.quote("AAPL", "30", "31")

	res := f.market("AAPL", types.OrderSideSell, "4")

	require.True(t, res.Success, res.Message)
	assertDec(t, "4", res.SharesFilled)
	assertDec(t, "0", res.UnsoldOrUnfunded)
	assertDec(t, "120", res.TotalAmount)

	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 2)
	assertDec(t, "10", lots[0].CostPerShare)
	assertDec(t, "4", lots[0].Shares)
	assertDec(t, "20", lots[1].CostPerShare)
	assertDec(t, "4", lots[1].Shares)

	status := map[string]types.LotStatus{}
	for _, e := range f.ledger(t) {
		status[e.UID] = e.Status
	}
	assert.Equal(t, types.LotStatusArchived, status[buys["5"].LedgerUID])
	assert.Equal(t, types.LotStatusTracked, status[buys["10"].LedgerUID])
	assert.Equal(t, types.LotStatusTracked, status[buys["20"].LedgerUID])
}

func TestSellBreaksCostTiesByLotID(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "12", "12")
	err := f.mem.WithinUser(context.Background(), testUser, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"lot-c", "lot-a", "lot-b"} {
			err := tx.Lots().Insert(ctx, model.Lot{
				ID: id, OwnerID: testUser, Symbol: "AAPL", Side: types.OrderSideBuy,
				OrderType: types.OrderTypeMarket, Shares: dec("3"), CostPerShare: dec("10"),
				TotalCost: dec("30"), Status: types.LotStatusTracked,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	res := f.market("AAPL", types.OrderSideSell, "4")
	require.True(t, res.Success, res.Message)

	shares := map[string]string{}
	for _, l := range f.lots(t, "AAPL") {
		shares[l.ID] = l.Shares.String()
	}
	assert.Equal(t, map[string]string{"lot-b": "2", "lot-c": "3"}, shares)
}

func TestSellMoreThanHeld(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "10", "10")
	require.True(t, f.market("AAPL", types.OrderSideBuy, "10").Success)
	f.quote("AAPL", "12", "13")

	res := f.market("AAPL", types.OrderSideSell, "15")

	require.True(t, res.Success, res.Message)
	assertDec(t, "10", res.SharesFilled)
	assertDec(t, "5", res.UnsoldOrUnfunded)
	assertDec(t, "120", res.TotalAmount)
	assertDec(t, "1020", f.balance(t))
	assert.Empty(t, f.lots(t, "AAPL"))
	assert.Contains(t, res.Message, "remain unsold")

	entries := f.ledger(t)
	require.Len(t, entries, 2)
	assert.Equal(t, types.OrderSideSell, entries[0].Side)
	assertDec(t, "10", entries[0].Shares)
	assert.Equal(t, types.LotStatusArchived, entries[0].Status)
}

func TestSellWithoutLots(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "12", "13")

	res := f.market("AAPL", types.OrderSideSell, "5")

	require.True(t, res.Success, res.Message)
	assertDec(t, "0", res.SharesFilled)
	assertDec(t, "5", res.UnsoldOrUnfunded)
	assertDec(t, "0", res.TotalAmount)
	assertDec(t, "1000", f.balance(t))
}

func TestFullConsumptionArchivesOriginatingEntry(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "10", "10")
	first := f.market("AAPL", types.OrderSideBuy, "3")
	require.True(t, first.Success)
	f.quote("AAPL", "11", "11")
	second := f.market("AAPL", types.OrderSideBuy, "3")
	require.True(t, second.Success)

	res := f.market("AAPL", types.OrderSideSell, "4")
	require.True(t, res.Success, res.Message)

	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 1)
	assert.Equal(t, second.LedgerUID, lots[0].LedgerUID)
	assertDec(t, "2", lots[0].Shares)

	status := map[string]types.LotStatus{}
	for _, e := range f.ledger(t) {
		status[e.UID] = e.Status
	}
	assert.Equal(t, types.LotStatusArchived, status[first.LedgerUID])
	assert.Equal(t, types.LotStatusTracked, status[second.LedgerUID])
}

func TestSkipsEmptyLots(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "10", "10")
	require.True(t, f.market("AAPL", types.OrderSideBuy, "2").Success)
	err := f.mem.WithinUser(context.Background(), testUser, func(ctx context.Context, tx store.Tx) error {
		return tx.Lots().Insert(ctx, model.Lot{
			ID: "00000000-0000-0000-0000-000000000000", OwnerID: testUser, Symbol: "AAPL",
			Side: types.OrderSideBuy, OrderType: types.OrderTypeMarket, Shares: decimal.Zero,
			CostPerShare: dec("1"), Status: types.LotStatusTracked,
		})
	})
	require.NoError(t, err)

	res := f.market("AAPL", types.OrderSideSell, "2")

	require.True(t, res.Success, res.Message)
	assertDec(t, "2", res.SharesFilled)
	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 1)
	assert.True(t, lots[0].Shares.IsZero())
}

func TestLedgerChainVerifies(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "10", "10")
	require.True(t, f.market("AAPL", types.OrderSideBuy, "5").Success)
	require.True(t, f.market("AAPL", types.OrderSideSell, "5").Success)
	require.True(t, f.market("AAPL", types.OrderSideBuy, "1").Success)

	entries := f.ledger(t)
	oldestFirst := make([]model.LedgerEntry, len(entries))
	for i, e := range entries {
		oldestFirst[len(entries)-1-i] = e
	}
	require.NoError(t, store.VerifyChain(oldestFirst))
}

type faultyStore struct {
	*memory.Store
	failOn string
}

var errBoom = errors.New("boom")

func (s *faultyStore) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithinUser(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, faultyTx{Tx: tx, failOn: s.failOn})
	})
}

type faultyTx struct {
	store.Tx
	failOn string
}

func (t faultyTx) Lots() store.LotStore {
	return faultyLots{LotStore: t.Tx.Lots(), failOn: t.failOn}
}

func (t faultyTx) Balances() store.BalanceStore {
	return faultyBalances{BalanceStore: t.Tx.Balances(), failOn: t.failOn}
}

type faultyLots struct {
	store.LotStore
	failOn string
}

func (l faultyLots) Insert(ctx context.Context, lot model.Lot) error {
	if l.failOn == "insert" {
		return errBoom
	}
	return l.LotStore.Insert(ctx, lot)
}

func (l faultyLots) Delete(ctx context.Context, ownerID string, lotIDs ...string) error {
	if l.failOn == "delete" {
		return errBoom
	}
	return l.LotStore.Delete(ctx, ownerID, lotIDs...)
}

type faultyBalances struct {
	store.BalanceStore
	failOn string
}

func (b faultyBalances) SetBalance(ctx context.Context, userID string, prev, next decimal.Decimal) error {
	if b.failOn == "balance" {
		return store.ErrBalanceConflict
	}
	return b.BalanceStore.SetBalance(ctx, userID, prev, next)
}

func TestFailuresRollBackEverything(t *testing.T) {
	cases := []struct {
		failOn string
		side   types.OrderSide
	}{
		{"insert", types.OrderSideBuy},
		{"balance", types.OrderSideBuy},
		{"delete", types.OrderSideSell},
		{"balance", types.OrderSideSell},
	}
	for _, tc := range cases {
		t.Run(tc.failOn+"_"+string(tc.side), func(t *testing.T) {
			f := newFixture(t, "1000")
			f.quote("AAPL", "10", "10")
			require.True(t, f.market("AAPL", types.OrderSideBuy, "5").Success)
			f.pub.events = nil

			faulty := &faultyStore{Store: f.mem, failOn: tc.failOn}
			f.engine = New(faulty, f.quotes, f.pub, nil, nil, DefaultOptions())

			res := f.market("AAPL", tc.side, "5")

			assert.False(t, res.Success)
			assert.Equal(t, CodePersistence, res.Code)
			assertDec(t, "950", f.balance(t))
			lots := f.lots(t, "AAPL")
			require.Len(t, lots, 1)
			assertDec(t, "5", lots[0].Shares)
			entries := f.ledger(t)
			require.Len(t, entries, 1)
			assert.Equal(t, types.LotStatusTracked, entries[0].Status)
			assert.Empty(t, f.pub.events)
		})
	}
}

func TestConcurrentBuysNeverOverdraw(t *testing.T) {
	f := newFixture(t, "100")
	opts := DefaultOptions()
	opts.AutoReduce = false
	f.engine = New(f.mem, f.quotes, nil, nil, nil, opts)
	f.quote("AAPL", "10", "10")

	var wg sync.WaitGroup
	results := make([]Result, 25)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.market("AAPL", types.OrderSideBuy, "1")
		}(i)
	}
	wg.Wait()

	filled := 0
	for _, r := range results {
		if r.Success {
			filled++
		} else {
			assert.Equal(t, CodeInsufficientFunds, r.Code)
		}
	}
	assert.Equal(t, 10, filled)
	assertDec(t, "0", f.balance(t))
	assert.Len(t, f.lots(t, "AAPL"), 10)
}

func TestContextCancelled(t *testing.T) {
	f := newFixture(t, "1000")
	f.quote("AAPL", "10", "10")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.SettleOrder(ctx, Order{Symbol: "AAPL", Side: types.OrderSideBuy, OrderType: types.OrderTypeMarket, Shares: dec("1")}, testUser)

	assert.False(t, res.Success)
	assertDec(t, "1000", f.balance(t))
}

func TestTimestampsAreMicrosecondUTC(t *testing.T) {
	f := newFixture(t, "1000")
	f.engine.now = func() time.Time {
		return time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	}
	f.quote("AAPL", "10", "10")
	require.True(t, f.market("AAPL", types.OrderSideBuy, "1").Success)

	lots := f.lots(t, "AAPL")
	require.Len(t, lots, 1)
	assert.Equal(t, 123456000, lots[0].Timestamp.Nanosecond())
	assert.Equal(t, time.UTC, lots[0].Timestamp.Location())
}
