package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/csvmodels/internal/db"
	"github.com/rpattn/csvmodels/internal/domain"
)

type userRepository struct {
	db db.DBTX
}

// NewUserRepository creates a repository for operator accounts
func NewUserRepository(exec db.DBTX) UserRepository {
	return &userRepository{db: exec}
}

func (r *userRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	var created domain.User
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (id, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, username, password_hash, created_at`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt,
	).Scan(&created.ID, &created.Username, &created.PasswordHash, &created.CreatedAt)
	if err != nil {
		return domain.User{}, translateError(err, "create user")
	}
	return created, nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return domain.User{}, translateError(err, "get user")
	}
	return user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return domain.User{}, translateError(err, fmt.Sprintf("get user %q", username))
	}
	return user, nil
}
