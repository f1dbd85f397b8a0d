// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend interface {
	store.Store
	store.UserStore
}

// Run exercises backend. newBackend is called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	cases := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"Users", testUsers},
		{"CommitAppliesAllWrites", testCommit},
		{"ErrorDiscardsAllWrites", testRollback},
		{"BalanceCompareAndSet", testBalanceCAS},
		{"LotOperations", testLots},
		{"LedgerChainAndFilters", testLedger},
		{"DeleteUserRemovesEverything", testDeleteUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t))
		})
	}
}

func newUser(t *testing.T, b Backend, balance string) model.User {
	t.Helper()
	id := uuid.NewString()
	u, err := b.CreateUser(context.Background(), model.User{
		ID:           id,
		Email:        id[:8] + "@example.com",
		Username:     "user-" + id[:8],
		PasswordHash: "hash",
		Balance:      decimal.RequireFromString(balance),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	})
	require.NoError(t, err)
	return u
}

func newLot(ownerID, symbol, shares, cost string) model.Lot {
	s := decimal.RequireFromString(shares)
	c := decimal.RequireFromString(cost)
	return model.Lot{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Symbol:       symbol,
		Side:         types.OrderSideBuy,
		OrderType:    types.OrderTypeMarket,
		Shares:       s,
		CostPerShare: c,
		TotalCost:    s.Mul(c),
		Status:       types.LotStatusTracked,
		LedgerUID:    uuid.NewString(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func newEntry(ownerID, symbol string, side types.OrderSide, shares string) model.LedgerEntry {
	s := decimal.RequireFromString(shares)
	return model.LedgerEntry{
		UID:          uuid.NewString(),
		OwnerID:      ownerID,
		Symbol:       symbol,
		Side:         side,
		OrderType:    types.OrderTypeMarket,
		Shares:       s,
		CostPerShare: decimal.NewFromInt(10),
		TotalCost:    s.Mul(decimal.NewFromInt(10)),
		Status:       types.LotStatusTracked,
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func balanceOf(t *testing.T, b Backend, userID string) decimal.Decimal {
	t.Helper()
	u, err := b.UserByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func testUsers(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")

	got, err := b.UserByLogin(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	got, err = b.UserByLogin(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	dup := u
	dup.ID = uuid.NewString()
	dup.Username = "someone-else-" + dup.ID[:8]
	_, err = b.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, store.ErrUserExists)

	_, err = b.UserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.UserByLogin(ctx, "nobody-"+uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCommit(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")
	lot := newLot(u.ID, "AAPL", "3", "10")

	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Lots().Insert(ctx, lot); err != nil {
			return err
		}
		if _, err := tx.Ledger().Append(ctx, newEntry(u.ID, "AAPL", types.OrderSideBuy, "3")); err != nil {
			return err
		}
		bal, err := tx.Balances().Balance(ctx, u.ID)
		if err != nil {
			return err
		}
		return tx.Balances().SetBalance(ctx, u.ID, bal, bal.Sub(decimal.NewFromInt(30)))
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, b, u.ID).Equal(decimal.NewFromInt(70)))

	err = b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Lots().Get(ctx, u.ID, lot.ID)
		require.NoError(t, err)
		assert.True(t, got.Shares.Equal(lot.Shares))
		assert.True(t, got.CostPerShare.Equal(lot.CostPerShare))
		assert.Equal(t, lot.LedgerUID, got.LedgerUID)
		assert.True(t, got.Timestamp.Equal(lot.Timestamp))
		entries, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")
	boom := errors.New("boom")

	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Lots().Insert(ctx, newLot(u.ID, "AAPL", "3", "10")))
		_, err := tx.Ledger().Append(ctx, newEntry(u.ID, "AAPL", types.OrderSideBuy, "3"))
		require.NoError(t, err)
		require.NoError(t, tx.Balances().SetBalance(ctx, u.ID, decimal.NewFromInt(100), decimal.NewFromInt(70)))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, balanceOf(t, b, u.ID).Equal(decimal.NewFromInt(100)))

	err = b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.Lots().ListByOwner(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, lots)
		entries, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func testBalanceCAS(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")

	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		return tx.Balances().SetBalance(ctx, u.ID, decimal.NewFromInt(99), decimal.NewFromInt(0))
	})
	assert.ErrorIs(t, err, store.ErrBalanceConflict)
	assert.True(t, balanceOf(t, b, u.ID).Equal(decimal.NewFromInt(100)))

	ghost := uuid.NewString()
	err = b.WithinUser(ctx, ghost, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Balances().Balance(ctx, ghost)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testLots(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")
	a1 := newLot(u.ID, "AAPL", "5", "10")
	a2 := newLot(u.ID, "AAPL", "2", "5")
	m1 := newLot(u.ID, "MSFT", "1", "300")

	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		lots := tx.Lots()
		for _, l := range []model.Lot{a1, a2, m1} {
			require.NoError(t, lots.Insert(ctx, l))
		}
		aapl, err := lots.ListBySymbolSide(ctx, u.ID, "aapl", types.OrderSideBuy)
		require.NoError(t, err)
		assert.Len(t, aapl, 2)
		sells, err := lots.ListBySymbolSide(ctx, u.ID, "AAPL", types.OrderSideSell)
		require.NoError(t, err)
		assert.Empty(t, sells)

		require.NoError(t, lots.UpdateShares(ctx, u.ID, a1.ID, decimal.RequireFromString("2.5")))
		require.NoError(t, lots.UpdateStatus(ctx, u.ID, m1.ID, types.LotStatusPending))
		got, err := lots.Get(ctx, u.ID, a1.ID)
		require.NoError(t, err)
		assert.True(t, got.Shares.Equal(decimal.RequireFromString("2.5")))
		assert.True(t, got.TotalCost.Equal(decimal.NewFromInt(50)))
		got, err = lots.Get(ctx, u.ID, m1.ID)
		require.NoError(t, err)
		assert.Equal(t, types.LotStatusPending, got.Status)

		assert.ErrorIs(t, lots.UpdateShares(ctx, u.ID, uuid.NewString(), decimal.Zero), store.ErrNotFound)
		assert.ErrorIs(t, lots.Delete(ctx, u.ID, uuid.NewString()), store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	err = b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Lots().Delete(ctx, u.ID, a1.ID, a2.ID))
		all, err := tx.Lots().ListByOwner(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, m1.ID, all[0].ID)
		return nil
	})
	require.NoError(t, err)

	other := newUser(t, b, "0")
	err = b.WithinUser(ctx, other.ID, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Lots().Get(ctx, other.ID, m1.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testLedger(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")
	var uids []string

	for i, op := range []struct {
		symbol string
		side   types.OrderSide
	}{{"AAPL", types.OrderSideBuy}, {"MSFT", types.OrderSideBuy}, {"AAPL", types.OrderSideSell}} {
		err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
			e := newEntry(u.ID, op.symbol, op.side, "1")
			e.Timestamp = e.Timestamp.Add(time.Duration(i) * time.Millisecond)
			stored, err := tx.Ledger().Append(ctx, e)
			if err != nil {
				return err
			}
			assert.NotEmpty(t, stored.Hash)
			uids = append(uids, stored.UID)
			return nil
		})
		require.NoError(t, err)
	}

	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Ledger().UpdateStatus(ctx, u.ID, uids[0], types.LotStatusArchived))
		assert.ErrorIs(t, tx.Ledger().UpdateStatus(ctx, u.ID, uuid.NewString(), types.LotStatusArchived), store.ErrNotFound)

		all, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, uids[2], all[0].UID)
		assert.Equal(t, uids[0], all[2].UID)
		assert.Equal(t, types.LotStatusArchived, all[2].Status)

		oldestFirst := []model.LedgerEntry{all[2], all[1], all[0]}
		assert.NoError(t, store.VerifyChain(oldestFirst))

		aapl, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{Symbol: "aapl"})
		require.NoError(t, err)
		assert.Len(t, aapl, 2)
		latest, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, uids[2], latest[0].UID)
		return nil
	})
	require.NoError(t, err)
}

func testDeleteUser(t *testing.T, b Backend) {
	ctx := context.Background()
	u := newUser(t, b, "100")
	err := b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Lots().Insert(ctx, newLot(u.ID, "AAPL", "1", "1")); err != nil {
			return err
		}
		_, err := tx.Ledger().Append(ctx, newEntry(u.ID, "AAPL", types.OrderSideBuy, "1"))
		return err
	})
	require.NoError(t, err)

	require.NoError(t, b.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, b.DeleteUser(ctx, u.ID), store.ErrNotFound)
	_, err = b.UserByID(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = b.WithinUser(ctx, u.ID, func(ctx context.Context, tx store.Tx) error {
		lots, err := tx.Lots().ListByOwner(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, lots)
		entries, err := tx.Ledger().ListByOwner(ctx, u.ID, store.LedgerFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}
