package httpapi

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"serotonyl.ru/watch-rewards/internal/metrics"
	"serotonyl.ru/watch-rewards/internal/ratelimit"
)

// Services — зависимости обработчиков.
type Services struct {
	Profiles  ProfileService
	Attention AttentionService
	Trust     TrustService
	Abuse     AbuseService
	Ledger    LedgerService
	Rewards   RewardService
	Admin     AdminVerifier
	Limiter   ratelimit.Limiter
	Metrics   metrics.Recorder
	// Gatherer — источник /metrics. nil — эндпоинт не подключается.
	Gatherer prometheus.Gatherer
}

// Options — настройки HTTP-слоя.
type Options struct {
	JWTSecret         string
	JWTIssuer         string
	BodyLimit         int
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// OperationTimeout — предельное время обработки запроса хранилищем. 0 — без ограничения.
	OperationTimeout time.Duration
}

type server struct {
	svc  Services
	opts Options
}

// New собирает fiber-приложение со всеми маршрутами.
func New(svc Services, opts Options) *fiber.App {
	if svc.Metrics == nil {
		svc.Metrics = metrics.Noop{}
	}
	s := &server{svc: svc, opts: opts}

	app := fiber.New(fiber.Config{
		AppName:               "watch-rewards",
		BodyLimit:             opts.BodyLimit,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recovery())
	app.Use(observe(svc.Metrics))
	app.Use(withTimeout(opts.OperationTimeout))

	app.Get("/health", s.health)
	if svc.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1", s.requireUser(), s.rateLimit())
	api.Post("/profile", s.registerProfile)

	api.Get("/wallet", s.getWallet)
	api.Get("/wallet/transactions", s.listTransactions)
	api.Post("/wallet/convert", s.convert)
	api.Post("/wallet/spend", s.spend)

	api.Post("/attention/validate", s.validateAttention)
	api.Post("/rewards/watch", s.claimWatchReward)

	api.Post("/trust/devices", s.updateTrust)
	api.Get("/trust/devices/:fp", s.trustState)
	api.Get("/trust/devices/:fp/audit", s.trustAudit)

	api.Post("/abuse", s.reportAbuse)

	api.Post("/payouts", s.requestPayout)
	api.Get("/payouts/:id", s.getPayout)

	internal := app.Group("/internal", s.requireAdmin())
	internal.Post("/trust/devices", s.updateTrustInternal)
	internal.Post("/settlements/purchase", s.settlePurchase)
	internal.Post("/settlements/payout", s.settlePayout)
	internal.Get("/ledger/violations", s.ledgerViolations)

	return app
}

func (s *server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
