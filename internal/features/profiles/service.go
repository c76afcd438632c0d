// Package profiles — service.go содержит регистрацию пользователя.
package profiles

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
)

// BalanceOpener создаёт нулевой баланс нового пользователя (реализует ledger).
type BalanceOpener interface {
	EnsureBalance(ctx context.Context, userID string) error
}

// Service управляет профилями.
type Service struct {
	store    Store
	balances BalanceOpener
}

// NewService создаёт сервис профилей.
func NewService(store Store, balances BalanceOpener) *Service {
	return &Service{store: store, balances: balances}
}

// Register регистрирует пользователя и открывает ему баланс.
// Повторный вызов безопасен: обе операции идемпотентны.
func (s *Service) Register(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, common.ErrUnauthorized
	}
	created, err := s.store.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.balances.EnsureBalance(ctx, userID); err != nil {
		return nil, fmt.Errorf("ошибка открытия баланса: %w", err)
	}
	if created {
		log.WithField("user_id", userID).Info("Зарегистрирован новый профиль")
	}
	return s.store.Get(ctx, userID)
}

// Exists проверяет, зарегистрирован ли пользователь.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.Get(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
