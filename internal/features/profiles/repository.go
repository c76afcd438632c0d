// Package profiles — repository.go отвечает за таблицу profiles в PostgreSQL.
package profiles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/watch-rewards/internal/db/postgres"
)

// Repository работает с таблицей profiles.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий профилей.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create добавляет профиль. На конфликте по user_id ничего не делает.
func (r *Repository) Create(ctx context.Context, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return false, fmt.Errorf("ошибка создания профиля: %w", postgres.Classify(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Get: если не найден — ошибка с common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := r.db.QueryRow(ctx,
		`SELECT user_id, created_at FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("профиль %q: %w", userID, postgres.Classify(err))
	}
	return &p, nil
}
