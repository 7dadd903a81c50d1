package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/domain"
)

type recordRepository struct {
	conn *db.Connection
}

// NewRecordRepository wires a repository over the dynamic backing tables.
func NewRecordRepository(conn *db.Connection) RecordRepository {
	return &recordRepository{conn: conn}
}

// ReplaceRecords truncates the backing table and bulk copies rows into it in
// a single transaction.
func (r *recordRepository) ReplaceRecords(ctx context.Context, model domain.DynamicModel, rows [][]any) (int64, error) {
	table := pgx.Identifier{model.TableName()}
	columnNames := make([]string, len(model.Columns))
	for i, column := range model.Columns {
		columnNames[i] = column.Name
	}

	var copied int64
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE TABLE `+table.Sanitize()+` RESTART IDENTITY`); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", model.TableName(), err)
		}
		if len(rows) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, table, columnNames, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy records into %s: %w", model.TableName(), err)
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

func (r *recordRepository) Count(ctx context.Context, model domain.DynamicModel) (int64, error) {
	var count int64
	query := `SELECT count(*) FROM ` + pgx.Identifier{model.TableName()}.Sanitize()
	if err := r.conn.Pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records of %s: %w", model.Name, err)
	}
	return count, nil
}

// CountMany counts the rows of several backing tables in one round trip.
func (r *recordRepository) CountMany(ctx context.Context, models []domain.DynamicModel) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(models))
	if len(models) == 0 {
		return counts, nil
	}

	query, args := countManySQL(models)
	rows, err := r.conn.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if scanErr := rows.Scan(&id, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", scanErr)
		}
		counts[id] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate record counts: %w", rowsErr)
	}
	return counts, nil
}

func countManySQL(models []domain.DynamicModel) (string, []any) {
	parts := make([]string, len(models))
	args := make([]any, len(models))
	for i, model := range models {
		parts[i] = fmt.Sprintf("SELECT $%d::uuid, count(*) FROM %s", i+1, pgx.Identifier{model.TableName()}.Sanitize())
		args[i] = model.ID
	}
	return strings.Join(parts, " UNION ALL "), args
}

// List returns a page of rows ordered by insertion.
func (r *recordRepository) List(ctx context.Context, model domain.DynamicModel, limit int, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	selectList := make([]string, 0, len(model.Columns)+1)
	selectList = append(selectList, "id")
	for _, column := range model.Columns {
		selectList = append(selectList, pgx.Identifier{column.Name}.Sanitize())
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id LIMIT $1 OFFSET $2`,
		strings.Join(selectList, ", "), pgx.Identifier{model.TableName()}.Sanitize())

	rows, err := r.conn.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", model.Name, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		values, valErr := rows.Values()
		if valErr != nil {
			return nil, fmt.Errorf("failed to read record of %s: %w", model.Name, valErr)
		}
		id, _ := values[0].(int64)
		records = append(records, Record{ID: id, Values: values[1:]})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate records of %s: %w", model.Name, rowsErr)
	}
	return records, nil
}
