// Package inventory_repo provides PostgreSQL implementations of the ledger,
// custody and BOQ repositories.
package inventory_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/infrastructure/storage/postgres"
)

// baseRepo provides insert, optimistic update and row lookup for one table.
// T is the row struct (not a pointer); columns come from its "db" tags.
type baseRepo[T any] struct {
	txManager  *postgres.TxManager
	tableName  string
	entityName string
	selectCols []string
}

func newBaseRepo[T any](txManager *postgres.TxManager, tableName, entityName string) *baseRepo[T] {
	return &baseRepo[T]{
		txManager:  txManager,
		tableName:  tableName,
		entityName: entityName,
		selectCols: postgres.ExtractDBColumns[T](),
	}
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *baseRepo[T]) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *baseRepo[T]) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

func (r *baseRepo[T]) baseSelect() squirrel.SelectBuilder {
	return r.Builder().Select(r.selectCols...).From(r.tableName)
}

// insert writes every tagged column of row.
func (r *baseRepo[T]) insert(ctx context.Context, row *T) error {
	data := postgres.StructToMap(row)

	sql, args, err := r.Builder().Insert(r.tableName).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewConcurrentModification(r.entityName, data["id"])
		}
		return fmt.Errorf("insert %s: %w", r.tableName, err)
	}
	return nil
}

// update saves row if its version matches, bumping the stored version.
// The caller advances the in-memory version on success.
func (r *baseRepo[T]) update(ctx context.Context, row *T, where squirrel.Sqlizer, displayID any, version int) error {
	data := postgres.StructToMap(row)
	delete(data, "id")
	delete(data, "version")

	q := r.Builder().
		Update(r.tableName).
		SetMap(data).
		Set("version", squirrel.Expr("version + 1")).
		Where(where).
		Where(squirrel.Eq{"version": version})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.tableName, err)
	}
	if result.RowsAffected() == 0 {
		exists, err := r.exists(ctx, where)
		if err != nil {
			return err
		}
		if !exists {
			return apperror.NewNotFound(r.entityName, displayID)
		}
		return apperror.NewConcurrentModification(r.entityName, displayID)
	}
	return nil
}

// get returns the single row matching where, locking it when forUpdate.
func (r *baseRepo[T]) get(ctx context.Context, where squirrel.Sqlizer, displayID any, forUpdate bool) (*T, error) {
	q := r.baseSelect().Where(where).Limit(1)
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	row := new(T)
	if err := pgxscan.Get(ctx, r.querier(ctx), row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(r.entityName, displayID)
		}
		return nil, fmt.Errorf("get %s: %w", r.tableName, err)
	}
	return row, nil
}

// selectRows runs q and scans all rows.
func (r *baseRepo[T]) selectRows(ctx context.Context, q squirrel.SelectBuilder, limit, offset int) ([]*T, error) {
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows := make([]*T, 0)
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", r.tableName, err)
	}
	return rows, nil
}

func (r *baseRepo[T]) exists(ctx context.Context, where squirrel.Sqlizer) (bool, error) {
	sql, args, err := r.Builder().
		Select("1").
		Prefix("SELECT EXISTS (").
		From(r.tableName).
		Where(where).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var exists bool
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists %s: %w", r.tableName, err)
	}
	return exists, nil
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
