package postgres

import (
	"context"
	"errors"
	"log/slog"

	"papertrade/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMaxRetries = 3

type Store struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxRetries int
}

func New(pool *pgxpool.Pool, logger *slog.Logger, maxRetries int) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{pool: pool, logger: logger, maxRetries: maxRetries}
}

func (s *Store) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.withinUserOnce(ctx, userID, fn)
		if !isSerializationFailure(err) {
			return err
		}
		s.logger.Warn("serialization failure, retrying", "user_id", userID, "attempt", attempt)
	}
	return err
}

func (s *Store) withinUserOnce(ctx context.Context, userID string, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock(hashtext($1))", userID); err != nil {
		return err
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Lots() store.LotStore         { return lotRepo{tx: t.tx} }
func (t *pgTx) Ledger() store.LedgerStore    { return ledgerRepo{tx: t.tx} }
func (t *pgTx) Balances() store.BalanceStore { return balanceRepo{tx: t.tx} }

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
