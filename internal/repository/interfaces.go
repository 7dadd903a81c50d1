package repository

import (
	"context"

	"github.com/rpattn/csvmodels/internal/domain"

	"github.com/google/uuid"
)

// DynamicModelRepository defines the interface for schema descriptor operations
type DynamicModelRepository interface {
	// Create persists the descriptor and materialises its backing table.
	Create(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.DynamicModel, error)
	GetByName(ctx context.Context, name string) (domain.DynamicModel, error)
	List(ctx context.Context) ([]domain.DynamicModel, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, name string) (bool, error)
	// Save overwrites the column specification and alters the backing table
	// when the specification changed.
	Save(ctx context.Context, model domain.DynamicModel) (domain.DynamicModel, error)
}

// RecordRepository defines operations on the backing data tables
type RecordRepository interface {
	// ReplaceRecords swaps the table contents for rows, whose values follow
	// the model's column order.
	ReplaceRecords(ctx context.Context, model domain.DynamicModel, rows [][]any) (int64, error)
	Count(ctx context.Context, model domain.DynamicModel) (int64, error)
	CountMany(ctx context.Context, models []domain.DynamicModel) (map[uuid.UUID]int64, error)
	List(ctx context.Context, model domain.DynamicModel, limit int, offset int) ([]Record, error)
}

// Record is one row of a backing table with values in column order.
type Record struct {
	ID     int64
	Values []any
}

// UserRepository defines the interface for operator accounts
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	GetByUsername(ctx context.Context, username string) (domain.User, error)
}

// SessionRepository stores login sessions
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	Get(ctx context.Context, token uuid.UUID) (domain.Session, error)
	Delete(ctx context.Context, token uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// ImportRunRepository keeps the history of imports per model
type ImportRunRepository interface {
	Record(ctx context.Context, run domain.ImportRun) error
	ListByModel(ctx context.Context, modelID uuid.UUID, limit int) ([]domain.ImportRun, error)
}
