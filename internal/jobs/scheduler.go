// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: отправку выплат провайдеру
// и ежедневную сверку балансов с историей транзакций.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/features/ledger"
)

// Ledger — операции леджера, которые нужны задачам.
type Ledger interface {
	DispatchPayouts(ctx context.Context, batch int) (int, error)
	ResubmitStalePayouts(ctx context.Context, staleAfter time.Duration, batch int) (int, error)
	VerifyInvariant(ctx context.Context) ([]ledger.Violation, error)
}

// Options — расписание задач в формате cron.
type Options struct {
	PayoutDispatchSpec string
	LedgerAuditSpec    string
	PayoutBatch        int
	// PayoutStaleAfter — сколько выплата может висеть в processing до повторной отправки.
	PayoutStaleAfter time.Duration
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron   *cron.Cron
	ledger Ledger
	opts   Options
	ctx    context.Context
}

// NewScheduler создаёт планировщик задач. Расписание проверяется сразу.
// Задача, не успевшая завершиться к следующему запуску, пропускает его.
func NewScheduler(ctx context.Context, l Ledger, opts Options) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	s := &Scheduler{cron: c, ledger: l, opts: opts, ctx: ctx}

	if _, err := c.AddFunc(opts.PayoutDispatchSpec, s.RunPayoutDispatch); err != nil {
		return nil, fmt.Errorf("расписание выплат %q: %w", opts.PayoutDispatchSpec, err)
	}
	if _, err := c.AddFunc(opts.LedgerAuditSpec, s.RunLedgerAudit); err != nil {
		return nil, fmt.Errorf("расписание сверки %q: %w", opts.LedgerAuditSpec, err)
	}
	return s, nil
}

// RunPayoutDispatch повторно отправляет зависшие выплаты
// и передаёт провайдеру очередную пачку новых.
func (s *Scheduler) RunPayoutDispatch() {
	stale, err := s.ledger.ResubmitStalePayouts(s.ctx, s.opts.PayoutStaleAfter, s.opts.PayoutBatch)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка повторной отправки выплат")
	} else if stale > 0 {
		log.WithField("count", stale).Warn("[CRON] Зависшие выплаты отправлены повторно")
	}

	n, err := s.ledger.DispatchPayouts(s.ctx, s.opts.PayoutBatch)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка отправки выплат")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("[CRON] Выплаты переданы провайдеру")
	}
}

// RunLedgerAudit сверяет балансы с суммой транзакций.
func (s *Scheduler) RunLedgerAudit() {
	log.Info("[CRON] Сверка леджера")
	violations, err := s.ledger.VerifyInvariant(s.ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки леджера")
		return
	}
	for _, v := range violations {
		log.WithFields(log.Fields{
			"user_id":    v.UserID,
			"currency":   v.Currency,
			"balance":    v.Balance,
			"ledger_sum": v.LedgerSum,
		}).Error("[CRON] Баланс расходится с историей транзакций")
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("Планировщик задач запущен")
}

// Stop останавливает планировщик и ждёт завершения идущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
