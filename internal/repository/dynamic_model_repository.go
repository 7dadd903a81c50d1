package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/domain"
)

const (
	uniqueViolation     = "23505"
	tableNameConstraint = "dynamic_models_table_name_key"
)

const dynamicModelColumns = `id, name, columns, source_kind, csv_url, csv_google_refresh_token,
	sd_api_key, sd_project_id, sd_form_id, created_at, updated_at`

// dynamicModelRepository implements DynamicModelRepository interface
type dynamicModelRepository struct {
	conn *db.Connection
}

// NewDynamicModelRepository creates a new schema descriptor repository
func NewDynamicModelRepository(conn *db.Connection) DynamicModelRepository {
	return &dynamicModelRepository{conn: conn}
}

// Create inserts the descriptor and creates its backing table in one transaction
func (r *dynamicModelRepository) Create(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error) {
	columnsJSON, err := model.GetColumnsAsJSONB()
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("failed to marshal columns: %w", err)
	}
	source, err := domain.FlattenSource(model.Source)
	if err != nil {
		return domain.DynamicModel{}, err
	}

	var created domain.DynamicModel
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO dynamic_models (id, name, table_name, columns, source_kind, csv_url,
				csv_google_refresh_token, sd_api_key, sd_project_id, sd_form_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING `+dynamicModelColumns,
			model.ID,
			model.Name,
			model.TableName(),
			columnsJSON,
			source.Kind,
			nullableText(source.CSVURL),
			nullableText(source.CSVGoogleRefreshToken),
			nullableText(source.SDAPIKey),
			source.SDProjectID,
			source.SDFormID,
			model.CreatedAt,
			model.UpdatedAt,
		)
		scanned, scanErr := scanDynamicModel(row)
		if scanErr != nil {
			return translateError(scanErr, "insert dynamic model")
		}
		if _, execErr := tx.Exec(ctx, createTableSQL(scanned)); execErr != nil {
			return translateError(execErr, "create backing table")
		}
		created = scanned
		return nil
	})
	if err != nil {
		return domain.DynamicModel{}, err
	}
	return created, nil
}

// GetByID retrieves a descriptor by ID
func (r *dynamicModelRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.DynamicModel, error) {
	row := r.conn.Pool.QueryRow(ctx, `SELECT `+dynamicModelColumns+` FROM dynamic_models WHERE id = $1`, id)
	model, err := scanDynamicModel(row)
	if err != nil {
		return domain.DynamicModel{}, translateError(err, "get dynamic model")
	}
	return model, nil
}

// GetByName retrieves a descriptor by its unique name
func (r *dynamicModelRepository) GetByName(ctx context.Context, name string) (domain.DynamicModel, error) {
	row := r.conn.Pool.QueryRow(ctx, `SELECT `+dynamicModelColumns+` FROM dynamic_models WHERE name = $1`, name)
	model, err := scanDynamicModel(row)
	if err != nil {
		return domain.DynamicModel{}, translateError(err, "get dynamic model by name")
	}
	return model, nil
}

// List returns every descriptor ordered by name
func (r *dynamicModelRepository) List(ctx context.Context) ([]domain.DynamicModel, error) {
	rows, err := r.conn.Pool.Query(ctx, `SELECT `+dynamicModelColumns+` FROM dynamic_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dynamic models: %w", err)
	}
	defer rows.Close()

	models := []domain.DynamicModel{}
	for rows.Next() {
		model, scanErr := scanDynamicModel(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan dynamic model: %w", scanErr)
		}
		models = append(models, model)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate dynamic models: %w", rowsErr)
	}
	return models, nil
}

func (r *dynamicModelRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.conn.Pool.QueryRow(ctx, `SELECT count(*) FROM dynamic_models`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dynamic models: %w", err)
	}
	return count, nil
}

func (r *dynamicModelRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.conn.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dynamic_models WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dynamic model existence: %w", err)
	}
	return exists, nil
}

// Save overwrites the column specification. A changed specification drops and
// recreates the backing table; its rows are re-derived by the next import.
func (r *dynamicModelRepository) Save(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error) {
	columnsJSON, err := model.GetColumnsAsJSONB()
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("failed to marshal columns: %w", err)
	}

	var saved domain.DynamicModel
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		current, getErr := scanDynamicModel(tx.QueryRow(ctx,
			`SELECT `+dynamicModelColumns+` FROM dynamic_models WHERE id = $1 FOR UPDATE`, model.ID))
		if getErr != nil {
			return translateError(getErr, "lock dynamic model")
		}

		updated, updErr := scanDynamicModel(tx.QueryRow(ctx,
			`UPDATE dynamic_models SET columns = $2, updated_at = $3 WHERE id = $1 RETURNING `+dynamicModelColumns,
			model.ID, columnsJSON, time.Now(),
		))
		if updErr != nil {
			return translateError(updErr, "update dynamic model")
		}

		if !domain.ColumnsEqual(current.Columns, updated.Columns) {
			table := pgx.Identifier{updated.TableName()}.Sanitize()
			if _, execErr := tx.Exec(ctx, `DROP TABLE IF EXISTS `+table); execErr != nil {
				return fmt.Errorf("failed to drop backing table: %w", execErr)
			}
			if _, execErr := tx.Exec(ctx, createTableSQL(updated)); execErr != nil {
				return fmt.Errorf("failed to recreate backing table: %w", execErr)
			}
		}
		saved = updated
		return nil
	})
	if err != nil {
		return domain.DynamicModel{}, err
	}
	return saved, nil
}

// createTableSQL renders the DDL of a model's backing table.
func createTableSQL(model domain.DynamicModel) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{model.TableName()}.Sanitize())
	b.WriteString(" (id bigserial PRIMARY KEY")
	for _, column := range model.Columns {
		b.WriteString(", ")
		b.WriteString(pgx.Identifier{column.Name}.Sanitize())
		b.WriteString(" ")
		b.WriteString(column.Type.SQLType())
	}
	b.WriteString(")")
	return b.String()
}

func scanDynamicModel(row pgx.Row) (domain.DynamicModel, error) {
	var (
		model        domain.DynamicModel
		columnsJSON  []byte
		kind         string
		csvURL       pgtype.Text
		refreshToken pgtype.Text
		apiKey       pgtype.Text
		projectID    pgtype.Int8
		formID       pgtype.Int8
	)
	if err := row.Scan(
		&model.ID,
		&model.Name,
		&columnsJSON,
		&kind,
		&csvURL,
		&refreshToken,
		&apiKey,
		&projectID,
		&formID,
		&model.CreatedAt,
		&model.UpdatedAt,
	); err != nil {
		return domain.DynamicModel{}, err
	}

	columns, err := domain.FromJSONBColumns(json.RawMessage(columnsJSON))
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("failed to unmarshal columns for model %s: %w", model.Name, err)
	}
	model.Columns = columns

	source, err := domain.SourceColumns{
		Kind:                  kind,
		CSVURL:                csvURL.String,
		CSVGoogleRefreshToken: refreshToken.String,
		SDAPIKey:              apiKey.String,
		SDProjectID:           int8Ptr(projectID),
		SDFormID:              int8Ptr(formID),
	}.Decode()
	if err != nil {
		return domain.DynamicModel{}, fmt.Errorf("model %s (%s): %w", model.Name, model.ID, err)
	}
	model.Source = source
	return model, nil
}

func translateError(err error, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", action, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == tableNameConstraint {
			return fmt.Errorf("%s: %w: %w", action, domain.ErrConflict, domain.ErrTableNameTaken)
		}
		return fmt.Errorf("%s: %w (%s)", action, domain.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func nullableText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func int8Ptr(value pgtype.Int8) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}
