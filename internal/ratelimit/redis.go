package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter — фиксированное окно в Redis: INCR счётчика и EXPIRE при первом запросе окна.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis недоступен: %w", err)
	}
	return rdb, nil
}

// NewRedisLimiter создаёт лимитер поверх готового клиента.
func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

// Allow реализует Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("ошибка лимитера: %w", err)
	}
	count := int(incr.Val())
	return Result{Allowed: count <= limit, Count: count}, nil
}

// Close закрывает клиент Redis.
func (l *RedisLimiter) Close() error {
	return l.rdb.Close()
}
