// Package trust — repository.go хранит устройства и аудит в PostgreSQL.
// Обновление записи устройства идёт с проверкой версии (оптимистичная блокировка):
// параллельный писатель получит common.ErrConflict и повторит попытку.
package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/db/postgres"
)

// Repository работает с таблицами device_records и trust_audit.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий доверия.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetDevice читает запись устройства.
func (r *Repository) GetDevice(ctx context.Context, userID, fingerprint string) (*DeviceRecord, error) {
	var (
		rec  DeviceRecord
		info []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, fingerprint, trust_score, device_info, first_seen_at, last_seen_at, version
		FROM device_records
		WHERE user_id = $1 AND fingerprint = $2
	`, userID, fingerprint).Scan(
		&rec.ID, &rec.UserID, &rec.Fingerprint, &rec.TrustScore, &info,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("устройство %q: %w", fingerprint, postgres.Classify(err))
	}
	rec.DeviceInfo = info
	return &rec, nil
}

// SaveDevice сохраняет запись и аудит одной транзакцией.
func (r *Repository) SaveDevice(ctx context.Context, rec *DeviceRecord, audit AuditEntry) error {
	var info any
	if len(rec.DeviceInfo) > 0 {
		info = []byte(rec.DeviceInfo)
	}

	var id, version int64
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if rec.Version == 0 {
			// Гонка двух первых событий одного устройства: второй писатель
			// ничего не вставит и уйдёт на повтор уже как обновление.
			err := tx.QueryRow(ctx, `
				INSERT INTO device_records (user_id, fingerprint, trust_score, device_info, first_seen_at, last_seen_at, version)
				VALUES ($1, $2, $3, $4, $5, $6, 1)
				ON CONFLICT (user_id, fingerprint) DO NOTHING
				RETURNING id, version
			`, rec.UserID, rec.Fingerprint, rec.TrustScore, info, rec.FirstSeenAt, rec.LastSeenAt).Scan(&id, &version)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("устройство %q уже создано: %w", rec.Fingerprint, common.ErrConflict)
			}
			if err != nil {
				return fmt.Errorf("ошибка создания устройства: %w", postgres.Classify(err))
			}
		} else {
			err := tx.QueryRow(ctx, `
				UPDATE device_records
				SET trust_score = $3, device_info = COALESCE($4, device_info), last_seen_at = $5, version = version + 1
				WHERE id = $1 AND version = $2
				RETURNING id, version
			`, rec.ID, rec.Version, rec.TrustScore, info, rec.LastSeenAt).Scan(&id, &version)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("устройство %q изменено параллельно: %w", rec.Fingerprint, common.ErrConflict)
			}
			if err != nil {
				return fmt.Errorf("ошибка обновления устройства: %w", postgres.Classify(err))
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO trust_audit (user_id, fingerprint, event, previous_score, new_score, delta, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, audit.UserID, audit.Fingerprint, audit.Event, audit.PreviousScore, audit.NewScore, audit.Delta, audit.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка записи аудита доверия: %w", postgres.Classify(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.ID, rec.Version = id, version
	return nil
}

// CountDevicesSince считает устройства, впервые увиденные с since.
func (r *Repository) CountDevicesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM device_records WHERE user_id = $1 AND first_seen_at >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта устройств: %w", postgres.Classify(err))
	}
	return count, nil
}

// ListAudit возвращает последние limit записей аудита устройства.
func (r *Repository) ListAudit(ctx context.Context, userID, fingerprint string, limit int) ([]AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, fingerprint, event, previous_score, new_score, delta, created_at
		FROM trust_audit
		WHERE user_id = $1 AND fingerprint = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения аудита: %w", postgres.Classify(err))
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var a AuditEntry
		if err := rows.Scan(&a.ID, &a.UserID, &a.Fingerprint, &a.Event,
			&a.PreviousScore, &a.NewScore, &a.Delta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования аудита: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
