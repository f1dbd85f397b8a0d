package settlement

import (
	"context"
	"fmt"
	"sort"

	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

// matchAndConsume draws up to requested shares of symbol from the user's buy
// lots, cheapest cost per share first, and returns the proceeds at price plus
// the quantity that could not be covered. Partially consumed lots keep their
// cost basis. Exhausted lots are deleted in one batch after the walk and their
// originating ledger entries archived.
func (e *Engine) matchAndConsume(ctx context.Context, tx store.Tx, userID, symbol string, requested, price decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	lots, err := tx.Lots().ListBySymbolSide(ctx, userID, symbol, types.OrderSideBuy)
	if err != nil {
		return decimal.Zero, requested, fmt.Errorf("list lots: %w", err)
	}
	sortLots(lots)

	revenue := decimal.Zero
	remaining := requested
	var exhausted []string
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		if !lot.Shares.IsPositive() {
			e.logger.Warn("skipping empty lot", "user_id", userID, "lot_id", lot.ID, "shares", lot.Shares.String())
			continue
		}
		take := decimal.Min(lot.Shares, remaining)
		revenue = revenue.Add(take.Mul(price))
		remaining = remaining.Sub(take)

		left := lot.Shares.Sub(take)
		if left.IsPositive() {
			if err := tx.Lots().UpdateShares(ctx, userID, lot.ID, left); err != nil {
				return decimal.Zero, requested, fmt.Errorf("update lot %s: %w", lot.ID, err)
			}
			e.logger.Debug("reduced lot", "lot_id", lot.ID, "taken", take.String(), "left", left.String())
			continue
		}
		if lot.LedgerUID != "" {
			if err := tx.Ledger().UpdateStatus(ctx, userID, lot.LedgerUID, types.LotStatusArchived); err != nil {
				return decimal.Zero, requested, fmt.Errorf("archive ledger entry %s: %w", lot.LedgerUID, err)
			}
		}
		exhausted = append(exhausted, lot.ID)
	}
	if len(exhausted) > 0 {
		if err := tx.Lots().Delete(ctx, userID, exhausted...); err != nil {
			return decimal.Zero, requested, fmt.Errorf("delete lots: %w", err)
		}
	}
	return revenue, remaining, nil
}

func sortLots(lots []model.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if c := lots[i].CostPerShare.Cmp(lots[j].CostPerShare); c != 0 {
			return c < 0
		}
		return lots[i].ID < lots[j].ID
	})
}
