// Package abuse — repository.go пишет журнал в таблицу abuse_events.
package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/watch-rewards/internal/db/postgres"
)

// Repository работает с таблицей abuse_events.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert добавляет событие в журнал.
func (r *Repository) Insert(ctx context.Context, e Event) error {
	var details any
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO abuse_events (id, user_id, type, severity, details, device_fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, e.ID, e.UserID, e.Type, string(e.Severity), details, e.DeviceFingerprint, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события злоупотребления: %w", postgres.Classify(err))
	}
	return nil
}

// CountSince считает события пользователя за окно.
func (r *Repository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM abuse_events WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта событий злоупотребления: %w", postgres.Classify(err))
	}
	return count, nil
}
