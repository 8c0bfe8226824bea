package memory

import (
	"context"
	"sort"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/domain/ledger"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	store *Store
}

// NewLedgerRepo creates a ledger repository over store.
func NewLedgerRepo(store *Store) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Get(_ context.Context, key ledger.Key) (*ledger.Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	e, ok := r.store.entries[key]
	if !ok {
		return nil, apperror.NewNotFound("ledger entry", key.String())
	}
	clone := *e
	return &clone, nil
}

// GetForUpdate is Get; the single-writer transaction already excludes other writers.
func (r *LedgerRepo) GetForUpdate(ctx context.Context, key ledger.Key) (*ledger.Entry, error) {
	return r.Get(ctx, key)
}

func (r *LedgerRepo) Create(_ context.Context, entry *ledger.Entry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := entry.Key()
	if _, exists := r.store.entries[key]; exists {
		return apperror.NewConcurrentModification("ledger entry", key.String())
	}
	clone := *entry
	r.store.entries[key] = &clone
	return nil
}

func (r *LedgerRepo) Update(_ context.Context, entry *ledger.Entry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := entry.Key()
	current, ok := r.store.entries[key]
	if !ok {
		return apperror.NewNotFound("ledger entry", key.String())
	}
	if current.Version != entry.Version {
		return apperror.NewConcurrentModification("ledger entry", key.String())
	}

	entry.SetVersion(entry.Version + 1)
	clone := *entry
	r.store.entries[key] = &clone
	return nil
}

func (r *LedgerRepo) List(_ context.Context, filter ledger.ListFilter) ([]*ledger.Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*ledger.Entry, 0)
	for key, e := range r.store.entries {
		if filter.WarehouseID != nil && key.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.ItemID != nil && key.ItemID != *filter.ItemID {
			continue
		}
		if filter.BelowReorderPoint && !e.IsBelowReorderPoint() {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *LedgerRepo) AppendMovements(_ context.Context, movements []ledger.Movement) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.movements = append(r.store.movements, movements...)
	return nil
}

func (r *LedgerRepo) ListMovements(_ context.Context, key ledger.Key, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]ledger.Movement, 0)
	// Newest first: walk the journal backwards.
	for i := len(r.store.movements) - 1; i >= 0; i-- {
		m := r.store.movements[i]
		if m.WarehouseID != key.WarehouseID || m.ItemID != key.ItemID {
			continue
		}
		if filter.Pool != nil && m.Pool != *filter.Pool {
			continue
		}
		if filter.FromDate != nil && m.CreatedAt.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && m.CreatedAt.After(*filter.ToDate) {
			continue
		}
		out = append(out, m)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
