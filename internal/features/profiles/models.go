// Package profiles ведёт реестр пользователей сервиса.
// Идентичность выдаёт внешний сервис аутентификации, здесь только факт регистрации:
// без профиля нельзя ни начислять валюту, ни вести доверие устройств.
package profiles

import (
	"context"
	"time"
)

// Profile — зарегистрированный пользователь.
type Profile struct {
	UserID    string    `db:"user_id" json:"userId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Store — хранилище профилей.
type Store interface {
	// Create создаёт профиль. created=false, если он уже был.
	Create(ctx context.Context, userID string) (created bool, err error)
	// Get возвращает профиль или common.ErrNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)
}
