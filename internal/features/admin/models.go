// Package admin проверяет токен служебных вызовов (вебхуки провайдеров, сверка леджера).
// В конфигурации хранится только Argon2id-хеш токена.
package admin

import "errors"

// ErrTooManyAttempts — слишком много неверных токенов с одного адреса.
var ErrTooManyAttempts = errors.New("too many attempts")

// HashParams — параметры Argon2id.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams — 64 MB, 3 прохода, 2 потока.
var DefaultHashParams = HashParams{
	Memory:      65536,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}
