// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"rewards"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"watch_rewards"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	// Таймаут одной операции с хранилищем
	DBOperationTimeout time.Duration `envconfig:"DB_OPERATION_TIMEOUT" default:"5s"`

	// --- Application ---
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel  string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppLogFormat string `envconfig:"APP_LOG_FORMAT" default:"text"`
	// postgres — боевой режим, memory — локальная отладка без БД
	AppStorage string `envconfig:"APP_STORAGE" default:"postgres"`

	// --- HTTP ---
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPBodyLimit int    `envconfig:"HTTP_BODY_LIMIT" default:"1048576"`

	// --- Auth ---
	// Токены выпускает внешний сервис аутентификации, мы только проверяем подпись.
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	AuthJWTIssuer string `envconfig:"AUTH_JWT_ISSUER"`

	// --- Admin ---
	// Argon2id хеш токена для /internal (scripts/generate_hash.go)
	AdminTokenHash string `envconfig:"ADMIN_TOKEN_HASH" required:"true"`
	// Сколько неудачных попыток с одного IP за окно
	AdminMaxAttempts   int           `envconfig:"ADMIN_MAX_ATTEMPTS" default:"5"`
	AdminAttemptWindow time.Duration `envconfig:"ADMIN_ATTEMPT_WINDOW" default:"1h"`

	// --- Redis (опционально, для rate limiting) ---
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Attention ---
	AttentionAbuseWindow time.Duration `envconfig:"ATTENTION_ABUSE_WINDOW" default:"24h"`

	// --- Trust ---
	TrustWindow     time.Duration `envconfig:"TRUST_WINDOW" default:"24h"`
	TrustCacheTTL   time.Duration `envconfig:"TRUST_CACHE_TTL" default:"60s"`
	TrustCacheSize  int           `envconfig:"TRUST_CACHE_SIZE_MB" default:"8"`
	TrustMaxRetries int           `envconfig:"TRUST_MAX_RETRIES" default:"3"`

	// --- Ledger ---
	LedgerExchangeRate     int64 `envconfig:"LEDGER_EXCHANGE_RATE" default:"10"`
	LedgerConvertMin       int64 `envconfig:"LEDGER_CONVERT_MIN" default:"100"`
	LedgerConvertMax       int64 `envconfig:"LEDGER_CONVERT_MAX" default:"100000"`
	LedgerWatchReward      int64 `envconfig:"LEDGER_WATCH_REWARD" default:"10"`
	LedgerPayoutMin        int64 `envconfig:"LEDGER_PAYOUT_MIN" default:"100"`
	LedgerPayReducedReward bool  `envconfig:"LEDGER_PAY_REDUCED_ON_INVALID" default:"false"`

	// --- Jobs ---
	JobsPayoutDispatchSpec string        `envconfig:"JOBS_PAYOUT_DISPATCH_SPEC" default:"@every 1m"`
	JobsLedgerAuditSpec    string        `envconfig:"JOBS_LEDGER_AUDIT_SPEC" default:"0 3 * * *"`
	JobsPayoutBatch        int           `envconfig:"JOBS_PAYOUT_BATCH" default:"50"`
	JobsPayoutStaleAfter   time.Duration `envconfig:"JOBS_PAYOUT_STALE_AFTER" default:"30m"`

	// --- Metrics ---
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет связанные между собой параметры.
func (c *Config) Validate() error {
	switch c.AppStorage {
	case StoragePostgres:
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("APP_STORAGE должен быть %q или %q", StoragePostgres, StorageMemory)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS и RATE_LIMIT_WINDOW должны быть > 0")
	}
	if c.LedgerExchangeRate <= 0 {
		return fmt.Errorf("LEDGER_EXCHANGE_RATE должен быть > 0")
	}
	if c.LedgerConvertMin <= 0 || c.LedgerConvertMin > c.LedgerConvertMax {
		return fmt.Errorf("некорректные LEDGER_CONVERT_MIN/LEDGER_CONVERT_MAX")
	}
	if c.LedgerWatchReward < 0 {
		return fmt.Errorf("LEDGER_WATCH_REWARD не может быть отрицательным")
	}
	if c.TrustMaxRetries <= 0 {
		return fmt.Errorf("TRUST_MAX_RETRIES должен быть > 0")
	}
	if !strings.HasPrefix(c.AdminTokenHash, "$argon2id$") {
		return fmt.Errorf("ADMIN_TOKEN_HASH должен быть в формате argon2id")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
