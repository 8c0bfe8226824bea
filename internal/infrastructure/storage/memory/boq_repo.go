package memory

import (
	"context"
	"slices"
	"sort"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/boq"
)

// BOQRepo implements boq.Repository.
type BOQRepo struct {
	store *Store
}

// NewBOQRepo creates a BOQ repository over store.
func NewBOQRepo(store *Store) *BOQRepo {
	return &BOQRepo{store: store}
}

func cloneBOQ(b *boq.BOQ) *boq.BOQ {
	clone := *b
	clone.Lines = slices.Clone(b.Lines)
	return &clone
}

func (r *BOQRepo) Create(_ context.Context, b *boq.BOQ) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.boqs[b.ID]; exists {
		return apperror.NewConcurrentModification("boq", b.ID)
	}
	r.store.boqs[b.ID] = cloneBOQ(b)
	return nil
}

func (r *BOQRepo) GetByID(_ context.Context, boqID id.ID) (*boq.BOQ, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	b, ok := r.store.boqs[boqID]
	if !ok {
		return nil, apperror.NewNotFound("boq", boqID)
	}
	return cloneBOQ(b), nil
}

func (r *BOQRepo) GetForUpdate(ctx context.Context, boqID id.ID) (*boq.BOQ, error) {
	return r.GetByID(ctx, boqID)
}

func (r *BOQRepo) Update(_ context.Context, b *boq.BOQ) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.boqs[b.ID]
	if !ok {
		return apperror.NewNotFound("boq", b.ID)
	}
	if current.Version != b.Version {
		return apperror.NewConcurrentModification("boq", b.ID)
	}

	b.SetVersion(b.Version + 1)
	r.store.boqs[b.ID] = cloneBOQ(b)
	return nil
}

func (r *BOQRepo) List(_ context.Context, filter boq.ListFilter) ([]*boq.BOQ, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*boq.BOQ, 0)
	for _, b := range r.store.boqs {
		if filter.WarehouseID != nil && b.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.OriginalBOQID != nil && (b.OriginalBOQID == nil || *b.OriginalBOQID != *filter.OriginalBOQID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, b.Status) {
			continue
		}
		out = append(out, cloneBOQ(b))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return page(out, filter.Limit, filter.Offset), nil
}

var _ boq.Repository = (*BOQRepo)(nil)
