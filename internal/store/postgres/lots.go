package postgres

import (
	"context"

	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const lotColumns = "id, owner_id, symbol, side, order_type, shares, cost_per_share, total_cost, status, ledger_uid, created_at"

type lotRepo struct {
	tx pgx.Tx
}

func (r lotRepo) Insert(ctx context.Context, l model.Lot) error {
	_, err := r.tx.Exec(ctx, "insert into lots ("+lotColumns+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)",
		l.ID, l.OwnerID, l.Symbol, string(l.Side), string(l.OrderType), l.Shares, l.CostPerShare, l.TotalCost, string(l.Status), l.LedgerUID, l.Timestamp)
	return err
}

func (r lotRepo) Get(ctx context.Context, ownerID, lotID string) (model.Lot, error) {
	row := r.tx.QueryRow(ctx, "select "+lotColumns+" from lots where owner_id = $1 and id = $2", ownerID, lotID)
	l, err := scanLot(row)
	return l, notFound(err)
}

func (r lotRepo) ListBySymbolSide(ctx context.Context, ownerID, symbol string, side types.OrderSide) ([]model.Lot, error) {
	rows, err := r.tx.Query(ctx, "select "+lotColumns+" from lots where owner_id = $1 and symbol = $2 and side = $3 for update", ownerID, store.NormalizeSymbol(symbol), string(side))
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r lotRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Lot, error) {
	rows, err := r.tx.Query(ctx, "select "+lotColumns+" from lots where owner_id = $1 order by symbol asc, created_at asc", ownerID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r lotRepo) UpdateShares(ctx context.Context, ownerID, lotID string, shares decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, "update lots set shares = $1 where owner_id = $2 and id = $3", shares, ownerID, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r lotRepo) UpdateStatus(ctx context.Context, ownerID, lotID string, status types.LotStatus) error {
	tag, err := r.tx.Exec(ctx, "update lots set status = $1 where owner_id = $2 and id = $3", string(status), ownerID, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r lotRepo) Delete(ctx context.Context, ownerID string, lotIDs ...string) error {
	if len(lotIDs) == 0 {
		return nil
	}
	tag, err := r.tx.Exec(ctx, "delete from lots where owner_id = $1 and id = any($2::uuid[])", ownerID, lotIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(lotIDs)) {
		return store.ErrNotFound
	}
	return nil
}

func scanLot(row pgx.Row) (model.Lot, error) {
	var l model.Lot
	var side, orderType, status string
	err := row.Scan(&l.ID, &l.OwnerID, &l.Symbol, &side, &orderType, &l.Shares, &l.CostPerShare, &l.TotalCost, &status, &l.LedgerUID, &l.Timestamp)
	if err != nil {
		return l, err
	}
	l.Side = types.OrderSide(side)
	l.OrderType = types.OrderType(orderType)
	l.Status = types.LotStatus(status)
	return l, nil
}

func collectLots(rows pgx.Rows) ([]model.Lot, error) {
	defer rows.Close()
	var out []model.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
