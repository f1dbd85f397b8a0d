package postgres

import (
	"context"

	"papertrade/internal/model"
	"papertrade/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type balanceRepo struct {
	tx pgx.Tx
}

func (r balanceRepo) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, "select balance from users where id = $1 for update", userID).Scan(&balance)
	return balance, notFound(err)
}

func (r balanceRepo) SetBalance(ctx context.Context, userID string, prev, next decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, "update users set balance = $1 where id = $2 and balance = $3", next, userID, prev)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrBalanceConflict
	}
	return nil
}

const userColumns = "id, email, username, password_hash, balance, created_at"

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	_, err := s.pool.Exec(ctx, "insert into users ("+userColumns+") values ($1,$2,$3,$4,$5,$6)",
		u.ID, u.Email, u.Username, u.PasswordHash, u.Balance, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, store.ErrUserExists
		}
		return model.User{}, err
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, "select "+userColumns+" from users where id = $1", id))
}

func (s *Store) UserByLogin(ctx context.Context, login string) (model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, "select "+userColumns+" from users where lower(email) = lower($1) or lower(username) = lower($1)", login))
}

// DeleteUser takes the user's lock so that no settlement is in flight while
// lots and ledger rows cascade away.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock(hashtext($1))", id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, "delete from users where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt)
	return u, notFound(err)
}
