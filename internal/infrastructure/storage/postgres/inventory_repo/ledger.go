package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/infrastructure/storage/postgres"
)

const (
	ledgerEntriesTable   = "ledger_entries"
	ledgerMovementsTable = "ledger_movements"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	*baseRepo[ledger.Entry]
	inserter        *postgres.BatchInserter
	movementColumns []string
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txManager *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		baseRepo:        newBaseRepo[ledger.Entry](txManager, ledgerEntriesTable, "ledger entry"),
		inserter:        postgres.NewBatchInserter(txManager),
		movementColumns: postgres.ExtractDBColumns[ledger.Movement](),
	}
}

func keyEq(key ledger.Key) squirrel.Eq {
	return squirrel.Eq{"warehouse_id": key.WarehouseID, "item_id": key.ItemID}
}

func (r *LedgerRepo) Get(ctx context.Context, key ledger.Key) (*ledger.Entry, error) {
	return r.get(ctx, keyEq(key), key.String(), false)
}

func (r *LedgerRepo) GetForUpdate(ctx context.Context, key ledger.Key) (*ledger.Entry, error) {
	return r.get(ctx, keyEq(key), key.String(), true)
}

func (r *LedgerRepo) Create(ctx context.Context, entry *ledger.Entry) error {
	return r.insert(ctx, entry)
}

func (r *LedgerRepo) Update(ctx context.Context, entry *ledger.Entry) error {
	key := entry.Key()
	if err := r.update(ctx, entry, squirrel.Eq{"id": entry.ID}, key.String(), entry.Version); err != nil {
		return err
	}
	entry.SetVersion(entry.Version + 1)
	return nil
}

func (r *LedgerRepo) List(ctx context.Context, filter ledger.ListFilter) ([]*ledger.Entry, error) {
	return r.selectRows(ctx, r.listQuery(filter), filter.Limit, filter.Offset)
}

func (r *LedgerRepo) listQuery(filter ledger.ListFilter) squirrel.SelectBuilder {
	q := r.baseSelect()

	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.ItemID != nil {
		q = q.Where(squirrel.Eq{"item_id": *filter.ItemID})
	}
	if filter.BelowReorderPoint {
		q = q.Where("total_quantity < reorder_point")
	}

	return q.OrderBy("warehouse_id", "item_id")
}

// AppendMovements writes journal rows with COPY. Requires a transaction.
func (r *LedgerRepo) AppendMovements(ctx context.Context, movements []ledger.Movement) error {
	rows := make([][]any, 0, len(movements))
	for _, m := range movements {
		rows = append(rows, postgres.StructToRow(m, r.movementColumns))
	}

	if _, err := r.inserter.CopyFromSlice(ctx, ledgerMovementsTable, r.movementColumns, rows); err != nil {
		return fmt.Errorf("copy movements: %w", err)
	}
	return nil
}

func (r *LedgerRepo) ListMovements(ctx context.Context, key ledger.Key, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	q := r.Builder().
		Select(r.movementColumns...).
		From(ledgerMovementsTable).
		Where(keyEq(key))

	if filter.Pool != nil {
		q = q.Where(squirrel.Eq{"pool": *filter.Pool})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *filter.ToDate})
	}
	q = q.OrderBy("created_at DESC", "id DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	movements := make([]ledger.Movement, 0)
	if err := pgxscan.Select(ctx, r.querier(ctx), &movements, sql, args...); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
