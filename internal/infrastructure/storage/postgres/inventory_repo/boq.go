package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"quartermaster/internal/core/id"
	"quartermaster/internal/domain/boq"
	"quartermaster/internal/infrastructure/storage/postgres"
)

const (
	boqsTable     = "boqs"
	boqLinesTable = "boq_lines"
)

// lineRow is a stored BOQ line with its owner.
type lineRow struct {
	BOQID id.ID `db:"boq_id"`
	boq.Line
}

// BOQRepo implements boq.Repository. Lines are replaced as a whole on save.
type BOQRepo struct {
	*baseRepo[boq.BOQ]
	batch       *postgres.BatchExecutor
	lineColumns []string
}

// NewBOQRepo creates a new BOQ repository.
func NewBOQRepo(txManager *postgres.TxManager) *BOQRepo {
	return &BOQRepo{
		baseRepo:    newBaseRepo[boq.BOQ](txManager, boqsTable, "boq"),
		batch:       postgres.NewBatchExecutor(txManager),
		lineColumns: postgres.ExtractDBColumns[boq.Line](),
	}
}

func (r *BOQRepo) Create(ctx context.Context, b *boq.BOQ) error {
	if err := r.insert(ctx, b); err != nil {
		return err
	}
	return r.saveLines(ctx, b.ID, b.Lines)
}

func (r *BOQRepo) GetByID(ctx context.Context, boqID id.ID) (*boq.BOQ, error) {
	return r.load(ctx, boqID, false)
}

func (r *BOQRepo) GetForUpdate(ctx context.Context, boqID id.ID) (*boq.BOQ, error) {
	return r.load(ctx, boqID, true)
}

func (r *BOQRepo) load(ctx context.Context, boqID id.ID, forUpdate bool) (*boq.BOQ, error) {
	b, err := r.get(ctx, squirrel.Eq{"id": boqID}, boqID, forUpdate)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, []*boq.BOQ{b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BOQRepo) Update(ctx context.Context, b *boq.BOQ) error {
	if err := r.update(ctx, b, squirrel.Eq{"id": b.ID}, b.ID, b.Version); err != nil {
		return err
	}
	if err := r.saveLines(ctx, b.ID, b.Lines); err != nil {
		return err
	}
	b.SetVersion(b.Version + 1)
	return nil
}

func (r *BOQRepo) List(ctx context.Context, filter boq.ListFilter) ([]*boq.BOQ, error) {
	q := r.baseSelect()

	if filter.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *filter.WarehouseID})
	}
	if filter.OriginalBOQID != nil {
		q = q.Where(squirrel.Eq{"original_boq_id": *filter.OriginalBOQID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}

	boqs, err := r.selectRows(ctx, q.OrderBy("created_at", "number"), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, boqs); err != nil {
		return nil, err
	}
	return boqs, nil
}

// attachLines loads lines of all boqs in one query.
func (r *BOQRepo) attachLines(ctx context.Context, boqs []*boq.BOQ) error {
	if len(boqs) == 0 {
		return nil
	}

	byID := make(map[id.ID]*boq.BOQ, len(boqs))
	ids := make([]id.ID, 0, len(boqs))
	for _, b := range boqs {
		b.Lines = make([]boq.Line, 0)
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	sql, args, err := r.Builder().
		Select(append([]string{"boq_id"}, r.lineColumns...)...).
		From(boqLinesTable).
		Where(squirrel.Eq{"boq_id": ids}).
		OrderBy("boq_id", "line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var rows []lineRow
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return fmt.Errorf("get lines: %w", err)
	}
	for _, row := range rows {
		if b, ok := byID[row.BOQID]; ok {
			b.Lines = append(b.Lines, row.Line)
		}
	}
	return nil
}

// saveLines replaces the lines of boqID (delete existing + insert new)
// in a single round-trip. Must run inside a transaction.
func (r *BOQRepo) saveLines(ctx context.Context, boqID id.ID, lines []boq.Line) error {
	queries := []postgres.BatchQuery{{
		SQL:  "DELETE FROM " + boqLinesTable + " WHERE boq_id = $1",
		Args: []any{boqID},
	}}

	if len(lines) > 0 {
		q := r.Builder().
			Insert(boqLinesTable).
			Columns(append([]string{"boq_id"}, r.lineColumns...)...)
		for _, line := range lines {
			q = q.Values(append([]any{boqID}, postgres.StructToRow(line, r.lineColumns)...)...)
		}

		sql, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build insert lines: %w", err)
		}
		queries = append(queries, postgres.BatchQuery{SQL: sql, Args: args})
	}

	if err := r.batch.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("save lines: %w", err)
	}
	return nil
}

var _ boq.Repository = (*BOQRepo)(nil)
