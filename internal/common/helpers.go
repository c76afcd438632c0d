// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: часы, повтор при конфликте записи, форматирование сумм.
package common

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Clock — источник времени. Подменяется в тестах.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает реальное время в UTC.
type SystemClock struct{}

// Now реализует Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock — часы, которые двигаются только вручную.
// T задаётся при создании; дальше время читается через Now и двигается через
// Advance, их можно вызывать из разных горутин.
type ManualClock struct {
	mu sync.Mutex
	T  time.Time
}

// Now реализует Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.T
}

// Advance сдвигает часы вперёд.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.T = c.T.Add(d)
}

// RetryOnConflict выполняет fn и сразу повторяет её, пока она возвращает ErrConflict.
// После attempts неудачных попыток возвращается последняя ошибка.
//
// Пример:
//
//	err := common.RetryOnConflict(ctx, 3, func() error {
//	    return store.SaveDevice(ctx, rec, audit)
//	})
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.WithFields(log.Fields{
			"attempt":  i,
			"attempts": attempts,
		}).Debug("Конфликт записи, повторяем")
	}
	return err
}
