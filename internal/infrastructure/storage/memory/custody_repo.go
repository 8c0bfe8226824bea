package memory

import (
	"context"
	"slices"
	"sort"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/custody"
)

// CustodyRepo implements custody.Repository.
type CustodyRepo struct {
	store *Store
}

// NewCustodyRepo creates a custody repository over store.
func NewCustodyRepo(store *Store) *CustodyRepo {
	return &CustodyRepo{store: store}
}

func (r *CustodyRepo) Create(_ context.Context, rec *custody.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.custody[rec.ID]; exists {
		return apperror.NewConcurrentModification("custody", rec.ID)
	}
	clone := *rec
	r.store.custody[rec.ID] = &clone
	return nil
}

func (r *CustodyRepo) GetByID(_ context.Context, recordID id.ID) (*custody.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rec, ok := r.store.custody[recordID]
	if !ok {
		return nil, apperror.NewNotFound("custody", recordID)
	}
	clone := *rec
	return &clone, nil
}

func (r *CustodyRepo) GetForUpdate(ctx context.Context, recordID id.ID) (*custody.Record, error) {
	return r.GetByID(ctx, recordID)
}

func (r *CustodyRepo) Update(_ context.Context, rec *custody.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.custody[rec.ID]
	if !ok {
		return apperror.NewNotFound("custody", rec.ID)
	}
	if current.Version != rec.Version {
		return apperror.NewConcurrentModification("custody", rec.ID)
	}

	rec.SetVersion(rec.Version + 1)
	clone := *rec
	r.store.custody[rec.ID] = &clone
	return nil
}

func (r *CustodyRepo) List(_ context.Context, filter custody.ListFilter) ([]*custody.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*custody.Record, 0)
	for _, rec := range r.store.custody {
		if filter.WorkerID != nil && rec.WorkerID != *filter.WorkerID {
			continue
		}
		if filter.ItemID != nil && rec.ItemID != *filter.ItemID {
			continue
		}
		if filter.WarehouseID != nil && rec.WarehouseID != *filter.WarehouseID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, rec.Status) {
			continue
		}
		if filter.IssuedBefore != nil && !rec.IssuedAt.Before(*filter.IssuedBefore) {
			continue
		}
		clone := *rec
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].Number < out[j].Number
	})
	return page(out, filter.Limit, filter.Offset), nil
}

// WorkerRepo implements custody.WorkerDirectory.
type WorkerRepo struct {
	store *Store
}

// NewWorkerRepo creates a worker directory over store.
func NewWorkerRepo(store *Store) *WorkerRepo {
	return &WorkerRepo{store: store}
}

func (r *WorkerRepo) GetWorker(_ context.Context, workerID id.ID) (*custody.Worker, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	w, ok := r.store.workers[workerID]
	if !ok {
		return nil, apperror.NewNotFound("worker", workerID)
	}
	clone := *w
	return &clone, nil
}

// GetWorkerForUpdate is GetWorker; the single-writer transaction already excludes other writers.
func (r *WorkerRepo) GetWorkerForUpdate(ctx context.Context, workerID id.ID) (*custody.Worker, error) {
	return r.GetWorker(ctx, workerID)
}

// Save inserts or replaces a worker.
func (r *WorkerRepo) Save(_ context.Context, w *custody.Worker) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *w
	r.store.workers[w.ID] = &clone
	return nil
}

var (
	_ custody.Repository      = (*CustodyRepo)(nil)
	_ custody.WorkerDirectory = (*WorkerRepo)(nil)
)
