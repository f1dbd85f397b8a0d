// Package memory is an in-process implementation of the store contracts. Each
// unit of work operates on a private copy of the user's partition which replaces
// the shared copy only when the work succeeds.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"papertrade/internal/model"
	"papertrade/internal/store"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type partition struct {
	balance decimal.Decimal
	lots    map[string]model.Lot
	ledger  []model.LedgerEntry
}

func (p *partition) clone() *partition {
	out := &partition{
		balance: p.balance,
		lots:    make(map[string]model.Lot, len(p.lots)),
		ledger:  make([]model.LedgerEntry, len(p.ledger)),
	}
	for id, l := range p.lots {
		out.lots[id] = l
	}
	copy(out.ledger, p.ledger)
	return out
}

type Store struct {
	mu    sync.RWMutex
	users map[string]model.User
	parts map[string]*partition
	locks sync.Map
}

func New() *Store {
	return &Store{
		users: make(map[string]model.User),
		parts: make(map[string]*partition),
	}
}

func (s *Store) userLock(userID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx store.Tx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	_, known := s.users[userID]
	var staged *partition
	if p, ok := s.parts[userID]; ok {
		staged = p.clone()
	} else {
		staged = &partition{lots: map[string]model.Lot{}}
	}
	s.mu.RUnlock()

	tx := &memTx{userID: userID, known: known, part: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if !known {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.Balance = staged.balance
	s.users[userID] = u
	s.parts[userID] = staged
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.Username, u.Username) {
			return model.User{}, store.ErrUserExists
		}
	}
	s.users[u.ID] = u
	s.parts[u.ID] = &partition{balance: u.Balance, lots: map[string]model.Lot{}}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) UserByLogin(ctx context.Context, login string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, login) || strings.EqualFold(u.Username, login) {
			return u, nil
		}
	}
	return model.User{}, store.ErrNotFound
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	lock := s.userLock(id)
	lock.Lock()
	defer lock.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	delete(s.parts, id)
	return nil
}

type memTx struct {
	userID string
	known  bool
	part   *partition
}

func (t *memTx) Lots() store.LotStore         { return lotRepo{t} }
func (t *memTx) Ledger() store.LedgerStore    { return ledgerRepo{t} }
func (t *memTx) Balances() store.BalanceStore { return balanceRepo{t} }

// owns rejects access to partitions other than the one locked by this tx.
func (t *memTx) owns(ownerID string) error {
	if ownerID != t.userID {
		return store.ErrNotFound
	}
	return nil
}

type lotRepo struct{ t *memTx }

func (r lotRepo) Insert(ctx context.Context, lot model.Lot) error {
	if err := r.t.owns(lot.OwnerID); err != nil {
		return err
	}
	r.t.part.lots[lot.ID] = lot
	return nil
}

func (r lotRepo) Get(ctx context.Context, ownerID, lotID string) (model.Lot, error) {
	if err := r.t.owns(ownerID); err != nil {
		return model.Lot{}, err
	}
	l, ok := r.t.part.lots[lotID]
	if !ok {
		return model.Lot{}, store.ErrNotFound
	}
	return l, nil
}

func (r lotRepo) ListBySymbolSide(ctx context.Context, ownerID, symbol string, side types.OrderSide) ([]model.Lot, error) {
	if err := r.t.owns(ownerID); err != nil {
		return nil, err
	}
	symbol = store.NormalizeSymbol(symbol)
	var out []model.Lot
	for _, l := range r.t.part.lots {
		if l.Symbol == symbol && l.Side == side {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r lotRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Lot, error) {
	if err := r.t.owns(ownerID); err != nil {
		return nil, err
	}
	out := make([]model.Lot, 0, len(r.t.part.lots))
	for _, l := range r.t.part.lots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (r lotRepo) UpdateShares(ctx context.Context, ownerID, lotID string, shares decimal.Decimal) error {
	l, err := r.Get(ctx, ownerID, lotID)
	if err != nil {
		return err
	}
	l.Shares = shares
	r.t.part.lots[lotID] = l
	return nil
}

func (r lotRepo) UpdateStatus(ctx context.Context, ownerID, lotID string, status types.LotStatus) error {
	l, err := r.Get(ctx, ownerID, lotID)
	if err != nil {
		return err
	}
	l.Status = status
	r.t.part.lots[lotID] = l
	return nil
}

func (r lotRepo) Delete(ctx context.Context, ownerID string, lotIDs ...string) error {
	if err := r.t.owns(ownerID); err != nil {
		return err
	}
	for _, id := range lotIDs {
		if _, ok := r.t.part.lots[id]; !ok {
			return store.ErrNotFound
		}
		delete(r.t.part.lots, id)
	}
	return nil
}

type ledgerRepo struct{ t *memTx }

func (r ledgerRepo) Append(ctx context.Context, e model.LedgerEntry) (model.LedgerEntry, error) {
	if err := r.t.owns(e.OwnerID); err != nil {
		return model.LedgerEntry{}, err
	}
	prev := ""
	if n := len(r.t.part.ledger); n > 0 {
		prev = r.t.part.ledger[n-1].Hash
	}
	e.PrevHash = prev
	e.Hash = store.ChainHash(prev, e)
	r.t.part.ledger = append(r.t.part.ledger, e)
	return e, nil
}

func (r ledgerRepo) UpdateStatus(ctx context.Context, ownerID, uid string, status types.LotStatus) error {
	if err := r.t.owns(ownerID); err != nil {
		return err
	}
	for i := range r.t.part.ledger {
		if r.t.part.ledger[i].UID == uid {
			r.t.part.ledger[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (r ledgerRepo) ListByOwner(ctx context.Context, ownerID string, filter store.LedgerFilter) ([]model.LedgerEntry, error) {
	if err := r.t.owns(ownerID); err != nil {
		return nil, err
	}
	symbol := store.NormalizeSymbol(filter.Symbol)
	var out []model.LedgerEntry
	for i := len(r.t.part.ledger) - 1; i >= 0; i-- {
		e := r.t.part.ledger[i]
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

type balanceRepo struct{ t *memTx }

func (r balanceRepo) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if err := r.t.owns(userID); err != nil || !r.t.known {
		return decimal.Zero, store.ErrNotFound
	}
	return r.t.part.balance, nil
}

func (r balanceRepo) SetBalance(ctx context.Context, userID string, prev, next decimal.Decimal) error {
	if err := r.t.owns(userID); err != nil || !r.t.known {
		return store.ErrNotFound
	}
	if !r.t.part.balance.Equal(prev) {
		return store.ErrBalanceConflict
	}
	r.t.part.balance = next
	return nil
}
