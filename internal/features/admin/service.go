// Package admin — service.go содержит проверку токена с защитой от перебора.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/ratelimit"
)

// Service проверяет служебный токен.
type Service struct {
	hash        string
	limiter     ratelimit.Limiter
	maxAttempts int
	window      time.Duration
}

// NewService создаёт проверку токена.
// Неудачные попытки считаются по адресу клиента: maxAttempts за window.
func NewService(hash string, limiter ratelimit.Limiter, maxAttempts int, window time.Duration) *Service {
	return &Service{hash: hash, limiter: limiter, maxAttempts: maxAttempts, window: window}
}

// Verify проверяет токен, пришедший с адреса ip.
func (s *Service) Verify(ctx context.Context, ip, token string) error {
	if token == "" {
		return common.ErrUnauthorized
	}

	// Каждая проверка занимает слот: после maxAttempts запросов за окно
	// адрес блокируется даже с верным токеном.
	res, err := s.limiter.Allow(ctx, "admin:"+ip, s.maxAttempts, s.window)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !res.Allowed {
		log.WithField("ip", ip).Warn("Превышен лимит попыток служебного токена")
		return ErrTooManyAttempts
	}

	if !verifyArgon2id(token, s.hash) {
		log.WithField("ip", ip).Warn("Неверный служебный токен")
		return common.ErrUnauthorized
	}
	return nil
}

// --- Криптографические утилиты ---

// HashToken вычисляет Argon2id-хеш токена в стандартном формате.
func HashToken(token string, p HashParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(token), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет токен по хешу Argon2id.
// Формат хеша: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(token, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(token), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Сравниваем в постоянном времени (защита от timing attack)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
