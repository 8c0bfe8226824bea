package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/infrastructure/storage/postgres"
)

const (
	custodyTable = "custody_records"
	workersTable = "workers"
)

// CustodyRepo implements custody.Repository.
type CustodyRepo struct {
	*baseRepo[custody.Record]
}

// NewCustodyRepo creates a new custody repository.
func NewCustodyRepo(txManager *postgres.TxManager) *CustodyRepo {
	return &CustodyRepo{
		baseRepo: newBaseRepo[custody.Record](txManager, custodyTable, "custody"),
	}
}

func (r *CustodyRepo) Create(ctx context.Context, rec *custody.Record) error {
	return r.insert(ctx, rec)
}

func (r *CustodyRepo) GetByID(ctx context.Context, recordID id.ID) (*custody.Record, error) {
	return r.get(ctx, squirrel.Eq{"id": recordID}, recordID, false)
}

func (r *CustodyRepo) GetForUpdate(ctx context.Context, recordID id.ID) (*custody.Record, error) {
	return r.get(ctx, squirrel.Eq{"id": recordID}, recordID, true)
}

func (r *CustodyRepo) Update(ctx context.Context, rec *custody.Record) error {
	if err := r.update(ctx, rec, squirrel.Eq{"id": rec.ID}, rec.ID, rec.Version); err != nil {
		return err
	}
	rec.SetVersion(rec.Version + 1)
	return nil
}

func (r *CustodyRepo) List(ctx context.Context, filter custody.ListFilter) ([]*custody.Record, error) {
	return r.selectRows(ctx, r.listQuery(filter), filter.Limit, filter.Offset)
}

func (r *CustodyRepo) listQuery(filter custody.ListFilter) squirrel.SelectBuilder {
	q := r.baseSelect()

	if filter.WorkerID != nil {
		q = q.Where(squirrel.Eq{"worker_id": *filter.WorkerID})
	}
	if filter.ItemID != nil {
		q = q.Where(squirrel.Eq{"item_id": *filter.ItemID})
	}
	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if filter.IssuedBefore != nil {
		q = q.Where(squirrel.Lt{"issued_at": *filter.IssuedBefore})
	}

	return q.OrderBy("issued_at", "number")
}

// WorkerRepo implements custody.WorkerDirectory over the workers table.
type WorkerRepo struct {
	*baseRepo[custody.Worker]
}

// NewWorkerRepo creates a new worker repository.
func NewWorkerRepo(txManager *postgres.TxManager) *WorkerRepo {
	return &WorkerRepo{
		baseRepo: newBaseRepo[custody.Worker](txManager, workersTable, "worker"),
	}
}

func (r *WorkerRepo) GetWorker(ctx context.Context, workerID id.ID) (*custody.Worker, error) {
	return r.get(ctx, squirrel.Eq{"id": workerID}, workerID, false)
}

func (r *WorkerRepo) GetWorkerForUpdate(ctx context.Context, workerID id.ID) (*custody.Worker, error) {
	return r.get(ctx, squirrel.Eq{"id": workerID}, workerID, true)
}

// Save inserts or replaces a worker.
func (r *WorkerRepo) Save(ctx context.Context, w *custody.Worker) error {
	sql, args, err := r.Builder().
		Insert(workersTable).
		SetMap(postgres.StructToMap(w)).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, department_id = EXCLUDED.department_id, active = EXCLUDED.active").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("save worker: %w", err)
	}
	return nil
}

var (
	_ custody.Repository      = (*CustodyRepo)(nil)
	_ custody.WorkerDirectory = (*WorkerRepo)(nil)
)
