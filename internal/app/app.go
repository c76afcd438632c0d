// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт хранилища, сервисы, HTTP-сервер
// и планировщик задач.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/config"
	"serotonyl.ru/watch-rewards/internal/db/postgres"
	"serotonyl.ru/watch-rewards/internal/features/abuse"
	"serotonyl.ru/watch-rewards/internal/features/admin"
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/profiles"
	"serotonyl.ru/watch-rewards/internal/features/rewards"
	"serotonyl.ru/watch-rewards/internal/features/trust"
	"serotonyl.ru/watch-rewards/internal/httpapi"
	"serotonyl.ru/watch-rewards/internal/jobs"
	"serotonyl.ru/watch-rewards/internal/metrics"
	"serotonyl.ru/watch-rewards/internal/ratelimit"
)

// App содержит все компоненты приложения.
type App struct {
	HTTP      *fiber.App
	Scheduler *jobs.Scheduler
	// DB — nil при APP_STORAGE=memory.
	DB *pgxpool.Pool

	limiter ratelimit.Limiter
	abuse   *abuse.Service
}

// stores — хранилища всех модулей для выбранного драйвера.
type stores struct {
	profiles profiles.Store
	abuse    abuse.Store
	trust    trust.Store
	ledger   ledger.Store
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clock := common.SystemClock{}
	a := &App{}

	// === 1. Хранилища ===
	st, err := a.openStores(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}

	// === 2. Метрики ===
	var rec metrics.Recorder = metrics.Noop{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec = metrics.New(reg)
		gatherer = reg
	}

	// === 3. Rate limiting ===
	if cfg.RedisAddr != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.limiter = ratelimit.NewRedisLimiter(rdb, "watch-rewards:rl:")
		log.Info("Rate limiting через Redis")
	} else {
		a.limiter = ratelimit.NewMemoryLimiter(clock, 5*time.Minute)
		log.Info("Rate limiting в памяти процесса")
	}

	// === 4. Сервисы ===
	ledgerService := ledger.NewService(st.ledger, clock, ledger.Options{
		ExchangeRate: cfg.LedgerExchangeRate,
		ConvertMin:   cfg.LedgerConvertMin,
		ConvertMax:   cfg.LedgerConvertMax,
		PayoutMin:    cfg.LedgerPayoutMin,
	}, ledger.LogGateway{}, rec)
	profileService := profiles.NewService(st.profiles, ledgerService)
	a.abuse = abuse.NewService(st.abuse, clock, rec)
	trustService := trust.NewService(st.trust, profileService, a.abuse,
		trust.NewCache(cfg.TrustCacheSize, cfg.TrustCacheTTL, clock), clock,
		trust.Options{Window: cfg.TrustWindow, MaxRetries: cfg.TrustMaxRetries}, rec)
	attentionService := attention.NewService(a.abuse, cfg.AttentionAbuseWindow, rec)
	rewardService := rewards.NewService(attentionService, trustService, ledgerService, rewards.Options{
		BaseReward:          cfg.LedgerWatchReward,
		PayReducedOnInvalid: cfg.LedgerPayReducedReward,
	})
	adminService := admin.NewService(cfg.AdminTokenHash, a.limiter, cfg.AdminMaxAttempts, cfg.AdminAttemptWindow)

	// === 5. HTTP ===
	a.HTTP = httpapi.New(httpapi.Services{
		Profiles:  profileService,
		Attention: attentionService,
		Trust:     trustService,
		Abuse:     a.abuse,
		Ledger:    ledgerService,
		Rewards:   rewardService,
		Admin:     adminService,
		Limiter:   a.limiter,
		Metrics:   rec,
		Gatherer:  gatherer,
	}, httpapi.Options{
		JWTSecret:         cfg.AuthJWTSecret,
		JWTIssuer:         cfg.AuthJWTIssuer,
		BodyLimit:         cfg.HTTPBodyLimit,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		OperationTimeout:  cfg.DBOperationTimeout,
	})

	// === 6. Планировщик задач ===
	a.Scheduler, err = jobs.NewScheduler(ctx, ledgerService, jobs.Options{
		PayoutDispatchSpec: cfg.JobsPayoutDispatchSpec,
		LedgerAuditSpec:    cfg.JobsLedgerAuditSpec,
		PayoutBatch:        cfg.JobsPayoutBatch,
		PayoutStaleAfter:   cfg.JobsPayoutStaleAfter,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, clock common.Clock) (stores, error) {
	if cfg.AppStorage == config.StorageMemory {
		log.Warn("APP_STORAGE=memory: данные не переживут перезапуск")
		return stores{
			profiles: profiles.NewMemoryStore(clock),
			abuse:    abuse.NewMemoryStore(),
			trust:    trust.NewMemoryStore(),
			ledger:   ledger.NewMemoryStore(clock),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("ошибка миграций: %w", err)
	}
	a.DB = pool

	return stores{
		profiles: profiles.NewRepository(pool),
		abuse:    abuse.NewRepository(pool),
		trust:    trust.NewRepository(pool),
		ledger:   ledger.NewRepository(pool),
	}, nil
}

// Close дожидается фоновых записей и освобождает ресурсы.
// HTTP-сервер и планировщик к этому моменту должны быть остановлены.
func (a *App) Close() {
	if a.abuse != nil {
		a.abuse.Flush()
	}
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия rate limiter")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
