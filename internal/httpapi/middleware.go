package httpapi

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/trust"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

const (
	userIDKey = "user_id"

	headerDeviceFingerprint = "X-Device-Fingerprint"
	headerAdminToken        = "X-Admin-Token"
)

// recovery перехватывает панику в обработчике. Клиент получит 500.
func recovery() fiber.Handler {
	return recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, r interface{}) {
			log.WithFields(log.Fields{
				"component": "panic_recovery",
				"path":      c.Path(),
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			}).Error("ПАНИКА в обработчике — восстановлено")
		},
	})
}

// observe логирует запрос и пишет метрику задержки.
// Ошибку цепочки обрабатываем здесь же, чтобы знать итоговый статус.
func observe(rec metrics.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := errorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()
		dur := time.Since(start)

		rec.ObserveRequest(c.Route().Path, c.Method(), status, dur)
		log.WithFields(log.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": dur.String(),
			"user_id":  currentUser(c),
		}).Debug("HTTP-запрос")
		return nil
	}
}

// withTimeout ограничивает время одной операции с хранилищем.
func withTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// requireUser проверяет JWT внешнего сервиса аутентификации (HS256).
// Идентификатор пользователя берётся из user_id, иначе из sub.
func (s *server) requireUser() fiber.Handler {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.opts.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.opts.JWTIssuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return common.ErrUnauthorized
		}

		claims := &tokenClaims{}
		token, err := parser.ParseWithClaims(raw, claims, s.jwtKey)
		if err != nil || !token.Valid {
			log.WithError(err).Debug("Отклонён токен")
			return common.ErrUnauthorized
		}

		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}
		if userID == "" {
			return common.ErrUnauthorized
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

func (s *server) jwtKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(s.opts.JWTSecret), nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// currentUser возвращает пользователя, установленного requireUser.
func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals(userIDKey).(string)
	return userID
}

// requireAdmin пускает только вызовы с верным служебным токеном.
func (s *server) requireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := s.svc.Admin.Verify(c.UserContext(), c.IP(), c.Get(headerAdminToken)); err != nil {
			return err
		}
		return c.Next()
	}
}

// rateLimit ограничивает запросы пользователя.
// Для недоверенного устройства лимит вдвое меньше. Первый отказ в окне
// снижает доверие устройства событием rate_limit_exceeded.
func (s *server) rateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		userID := currentUser(c)
		fingerprint := c.Get(headerDeviceFingerprint)

		limit := s.opts.RateLimitRequests
		trusted := true
		if fingerprint != "" {
			st, err := s.svc.Trust.State(ctx, userID, fingerprint)
			if err != nil {
				log.WithError(err).Warn("Не удалось прочитать доверие устройства для лимита")
			} else if !st.IsTrusted {
				trusted = false
				limit = max(1, limit/2)
			}
		}

		res, err := s.svc.Limiter.Allow(ctx, "user:"+userID, limit, s.opts.RateLimitWindow)
		if err != nil {
			// Недоступный лимитер не должен ронять API
			log.WithError(err).Error("Ошибка rate limiter, запрос пропущен")
			return c.Next()
		}
		if res.Allowed {
			return c.Next()
		}

		s.svc.Metrics.IncRateLimited(trusted)
		if fingerprint != "" && res.FirstRejection(limit) {
			if _, err := s.svc.Trust.UpdateTrust(ctx, userID, fingerprint, trust.EventRateLimitExceeded, nil); err != nil {
				log.WithError(err).WithField("user_id", userID).Warn("Не удалось понизить доверие после превышения лимита")
			}
		}
		log.WithFields(log.Fields{
			"user_id": userID,
			"count":   res.Count,
			"limit":   limit,
		}).Info("Превышен лимит запросов")

		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(s.opts.RateLimitWindow.Seconds())))
		return errTooManyRequests
	}
}
