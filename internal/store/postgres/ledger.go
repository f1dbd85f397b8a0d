package postgres

import (
	"context"
	"errors"
	"strconv"

	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/jackc/pgx/v5"
)

const ledgerColumns = "uid, owner_id, symbol, side, order_type, shares, cost_per_share, total_cost, status, notes, prev_hash, hash, created_at"

type ledgerRepo struct {
	tx pgx.Tx
}

// Append relies on the owner's advisory lock held by the unit of work, so the
// previous hash cannot move underneath it.
func (r ledgerRepo) Append(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error) {
	var prev string
	err := r.tx.QueryRow(ctx, "select hash from ledger_entries where owner_id = $1 order by sequence desc limit 1", e.OwnerID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.LedgerEntry{}, err
	}
	e.PrevHash = prev
	e.Hash = store.ChainHash(prev, e)
	_, err = r.tx.Exec(ctx, "insert into ledger_entries (uid, owner_id, symbol, side, order_type, shares, cost_per_share, total_cost, status, notes, prev_hash, hash, created_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)",
		e.UID, e.OwnerID, e.Symbol, string(e.Side), string(e.OrderType), e.Shares, e.CostPerShare, e.TotalCost, string(e.Status), e.Notes, e.PrevHash, e.Hash, e.Timestamp)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return e, nil
}

func (r ledgerRepo) UpdateStatus(ctx context.Context, ownerID, uid string, status types.LotStatus) error {
	tag, err := r.tx.Exec(ctx, "update ledger_entries set status = $1 where owner_id = $2 and uid = $3", string(status), ownerID, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r ledgerRepo) ListByOwner(ctx context.Context, ownerID string, filter store.LedgerFilter) ([]model.LedgerEntry, error) {
	query := "select " + ledgerColumns + " from ledger_entries where owner_id = $1"
	args := []any{ownerID}
	if symbol := store.NormalizeSymbol(filter.Symbol); symbol != "" {
		args = append(args, symbol)
		query += " and symbol = $2"
	}
	query += " order by sequence desc"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " limit $" + strconv.Itoa(len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var side, orderType, status string
		if err := rows.Scan(&e.UID, &e.OwnerID, &e.Symbol, &side, &orderType, &e.Shares, &e.CostPerShare, &e.TotalCost, &status, &e.Notes, &e.PrevHash, &e.Hash, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Side = types.OrderSide(side)
		e.OrderType = types.OrderType(orderType)
		e.Status = types.LotStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

