// Package memory provides in-process repositories and a transaction manager.
//
// The store admits one transaction at a time. A transaction works on the
// live maps and restores a snapshot taken at BEGIN if it fails, so callers
// observe the same all-or-nothing behavior as with PostgreSQL.
package memory

import (
	"context"
	"maps"
	"sync"

	"quartermaster/internal/core/id"
	"quartermaster/internal/core/tx"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/domain/ledger"
	"quartermaster/pkg/logger"
)

// Store holds all in-memory state.
type Store struct {
	// txMu serializes transactions (single writer).
	txMu sync.Mutex

	// mu guards the maps against readers outside transactions.
	mu        sync.RWMutex
	entries   map[ledger.Key]*ledger.Entry
	movements []ledger.Movement
	custody   map[id.ID]*custody.Record
	boqs      map[id.ID]*boq.BOQ
	workers   map[id.ID]*custody.Worker
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[ledger.Key]*ledger.Entry),
		custody: make(map[id.ID]*custody.Record),
		boqs:    make(map[id.ID]*boq.BOQ),
		workers: make(map[id.ID]*custody.Worker),
	}
}

// snapshot captures the state a failed transaction rolls back to.
// Stored values are never mutated in place, so copying the maps suffices.
type snapshot struct {
	entries      map[ledger.Key]*ledger.Entry
	movementsLen int
	custody      map[id.ID]*custody.Record
	boqs         map[id.ID]*boq.BOQ
	workers      map[id.ID]*custody.Worker
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		entries:      maps.Clone(s.entries),
		movementsLen: len(s.movements),
		custody:      maps.Clone(s.custody),
		boqs:         maps.Clone(s.boqs),
		workers:      maps.Clone(s.workers),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.entries
	s.movements = s.movements[:snap.movementsLen]
	s.custody = snap.custody
	s.boqs = snap.boqs
	s.workers = snap.workers
}

// TxManager implements tx.Manager over a Store.
type TxManager struct {
	store *Store
}

// NewTxManager creates a transaction manager for store.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

type txKey struct{}

// InTransaction reports whether ctx carries an active memory transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

// RunInTransaction executes fn as a single transaction.
// Nested calls reuse the surrounding transaction.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	txCtx, hooks := tx.WithHooks(ctx)
	txCtx = context.WithValue(txCtx, txKey{}, true)

	if err := m.run(txCtx, fn); err != nil {
		return err
	}

	hooks.Run(ctx)
	return nil
}

// ReadOnly runs fn inside a transaction; the memory store does not enforce read-only access.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransaction(ctx, fn)
}

func (m *TxManager) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()

	snap := m.store.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.store.restore(snap)
			panic(r)
		}
		if err != nil {
			m.store.restore(snap)
			logger.Debug(ctx, "memory transaction rolled back", "error", err)
		}
	}()

	return fn(ctx)
}

var _ tx.ReadOnlyManager = (*TxManager)(nil)

// page applies limit/offset to a sorted slice.
func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
