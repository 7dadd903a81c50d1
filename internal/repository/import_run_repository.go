package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/domain"
)

type importRunRepository struct {
	db db.DBTX
}

// NewImportRunRepository wires a repository for import history.
func NewImportRunRepository(exec db.DBTX) ImportRunRepository {
	return &importRunRepository{db: exec}
}

func (r *importRunRepository) Record(ctx context.Context, run domain.ImportRun) error {
	if r.db == nil {
		return fmt.Errorf("import run repository not initialized")
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO import_runs (id, model_id, source_kind, total_rows, imported, error_count, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID,
		run.ModelID,
		string(run.SourceKind),
		run.TotalRows,
		run.Imported,
		run.ErrorCount,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record import run: %w", err)
	}
	return nil
}

func (r *importRunRepository) ListByModel(ctx context.Context, modelID uuid.UUID, limit int) ([]domain.ImportRun, error) {
	if r.db == nil {
		return nil, fmt.Errorf("import run repository not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, model_id, source_kind, total_rows, imported, error_count, started_at, finished_at
		 FROM import_runs
		 WHERE model_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		modelID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ImportRun{}
	for rows.Next() {
		var (
			run        domain.ImportRun
			sourceKind string
			startedAt  pgtype.Timestamptz
			finishedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&run.ID,
			&run.ModelID,
			&sourceKind,
			&run.TotalRows,
			&run.Imported,
			&run.ErrorCount,
			&startedAt,
			&finishedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", scanErr)
		}
		run.SourceKind = domain.SourceKind(sourceKind)
		if startedAt.Valid {
			run.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import runs: %w", rowsErr)
	}
	return runs, nil
}
