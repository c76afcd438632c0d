// Package ratelimit ограничивает количество запросов на ключ (пользователя или IP).
// Есть две реализации: в памяти процесса (скользящее окно) и в Redis
// (фиксированное окно, общее для всех экземпляров сервиса).
package ratelimit

import (
	"context"
	"time"
)

// Result — решение по одному запросу.
type Result struct {
	Allowed bool
	// Count — число попыток в текущем окне, включая эту.
	Count int
}

// FirstRejection — это первая отклонённая попытка в окне.
func (r Result) FirstRejection(limit int) bool {
	return !r.Allowed && r.Count == limit+1
}

// Limiter решает, пропустить ли очередной запрос с ключом key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Close() error
}
