package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
)

// PayoutGateway передаёт выплату внешнему провайдеру.
// Результат перевода приходит позже через SettlePayout.
type PayoutGateway interface {
	Submit(ctx context.Context, p Payout) error
}

// LogGateway только пишет выплату в лог. Используется, пока провайдер не подключён.
type LogGateway struct{}

// Submit реализует PayoutGateway.
func (LogGateway) Submit(_ context.Context, p Payout) error {
	log.WithFields(log.Fields{
		"payout_id": p.ID,
		"user_id":   p.UserID,
		"amount":    p.Amount,
		"currency":  p.Currency,
	}).Info("Выплата передана провайдеру")
	return nil
}

// PayoutRequest — запрос пользователя на вывод.
type PayoutRequest struct {
	UserID   string
	Currency Currency
	Amount   int64
	// ReferenceID — ключ клиента, повтор запроса вернёт ту же выплату.
	ReferenceID string
}

// RequestPayout создаёт выплату в статусе requested. Баланс не меняется.
func (s *Service) RequestPayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	if req.UserID == "" {
		return nil, common.ErrUnauthorized
	}
	if req.Currency == "" {
		req.Currency = CurrencyPremium
	}
	if !req.Currency.Valid() {
		return nil, common.Invalid("currency", "допустимо: primary, premium")
	}
	if req.Amount < s.opts.PayoutMin {
		return nil, common.Invalid("amount", fmt.Sprintf("минимум %d", s.opts.PayoutMin))
	}
	if req.ReferenceID == "" {
		return nil, common.Invalid("referenceId", "обязательное поле")
	}

	// Повтор по ключу клиента возвращает ту же выплату, даже если она уже списана.
	existing, err := s.store.GetPayoutByReference(ctx, req.ReferenceID)
	switch {
	case err == nil:
		if existing.UserID != req.UserID {
			return nil, fmt.Errorf("referenceId %q занят: %w", req.ReferenceID, common.ErrConflict)
		}
		return existing, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	// Предварительная проверка. Окончательная — при списании в SettlePayout.
	b, err := s.store.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if b.Of(req.Currency) < req.Amount {
		s.metrics.IncInsufficientBalance("payout_request")
		return nil, fmt.Errorf("нужно %d, есть %d: %w", req.Amount, b.Of(req.Currency), common.ErrInsufficientBalance)
	}

	p, created, err := s.store.CreatePayout(ctx, Payout{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Status:      PayoutRequested,
		ReferenceID: req.ReferenceID,
		CreatedAt:   s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !created && p.UserID != req.UserID {
		return nil, fmt.Errorf("referenceId %q занят: %w", req.ReferenceID, common.ErrConflict)
	}
	if created {
		log.WithFields(log.Fields{
			"payout_id": p.ID,
			"user_id":   p.UserID,
			"amount":    p.Amount,
		}).Info("Создан запрос на выплату")
	}
	return p, nil
}

// Payout возвращает выплату пользователя. Чужая выплата считается не найденной.
func (s *Service) Payout(ctx context.Context, userID, id string) (*Payout, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("выплата %q: %w", id, common.ErrNotFound)
	}
	p, err := s.store.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && p.UserID != userID {
		return nil, fmt.Errorf("выплата %q: %w", id, common.ErrNotFound)
	}
	return p, nil
}

// DispatchPayouts переводит до batch выплат из requested в processing
// и передаёт их провайдеру. Ошибка провайдера сразу завершает выплату как failed.
func (s *Service) DispatchPayouts(ctx context.Context, batch int) (int, error) {
	pending, err := s.store.ListPayoutsByStatus(ctx, PayoutRequested, batch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, candidate := range pending {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}

		var claimed bool
		p, err := s.store.UpdatePayout(ctx, candidate.ID, func(p *Payout, _ *Balance) ([]Transaction, error) {
			if p.Status == PayoutRequested {
				p.Status = PayoutProcessing
				claimed = true
			}
			return nil, nil
		})
		if err != nil {
			log.WithError(err).WithField("payout_id", candidate.ID).Error("Не удалось взять выплату в работу")
			continue
		}
		if !claimed {
			continue
		}

		if err := s.gateway.Submit(ctx, *p); err != nil {
			log.WithError(err).WithField("payout_id", p.ID).Warn("Провайдер отклонил выплату")
			if _, ferr := s.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutFailed, Reason: err.Error()}); ferr != nil {
				log.WithError(ferr).WithField("payout_id", p.ID).Error("Не удалось завершить выплату")
			}
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// ResubmitStalePayouts повторно передаёт провайдеру выплаты, которые дольше
// staleAfter висят в processing без подтверждения. Так подбираются выплаты,
// взятые в работу перед падением процесса. Провайдер различает повторы по ID выплаты.
func (s *Service) ResubmitStalePayouts(ctx context.Context, staleAfter time.Duration, batch int) (int, error) {
	if staleAfter <= 0 {
		return 0, nil
	}
	processing, err := s.store.ListPayoutsByStatus(ctx, PayoutProcessing, batch)
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().Add(-staleAfter)
	resubmitted := 0
	for _, candidate := range processing {
		if ctx.Err() != nil {
			return resubmitted, ctx.Err()
		}
		if candidate.UpdatedAt.After(cutoff) {
			continue
		}

		// Пустое обновление сдвигает updated_at, чтобы следующий проход не взял выплату снова.
		var stale bool
		p, err := s.store.UpdatePayout(ctx, candidate.ID, func(p *Payout, _ *Balance) ([]Transaction, error) {
			stale = p.Status == PayoutProcessing && !p.UpdatedAt.After(cutoff)
			return nil, nil
		})
		if err != nil {
			log.WithError(err).WithField("payout_id", candidate.ID).Error("Не удалось обновить зависшую выплату")
			continue
		}
		if !stale {
			continue
		}

		log.WithField("payout_id", p.ID).Warn("Выплата зависла в processing, отправляем повторно")
		if err := s.gateway.Submit(ctx, *p); err != nil {
			log.WithError(err).WithField("payout_id", p.ID).Warn("Провайдер отклонил выплату")
			if _, ferr := s.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutFailed, Reason: err.Error()}); ferr != nil {
				log.WithError(ferr).WithField("payout_id", p.ID).Error("Не удалось завершить выплату")
			}
			continue
		}
		resubmitted++
	}
	return resubmitted, nil
}

// PayoutOutcome — результат перевода от провайдера.
type PayoutOutcome struct {
	Status PayoutStatus `json:"status" validate:"required,oneof=completed failed"`
	Reason string       `json:"reason" validate:"max=512"`
}

// SettlePayout завершает выплату.
// completed принимается только для выплаты в processing и списывает сумму
// ровно один раз; если средств уже не хватает,
// выплата становится failed. failed баланс не трогает. Повтор для
// завершённой выплаты ничего не меняет.
func (s *Service) SettlePayout(ctx context.Context, id string, outcome PayoutOutcome) (*Payout, error) {
	if !outcome.Status.Final() {
		return nil, common.Invalid("status", "допустимо: completed, failed")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("выплата %q: %w", id, common.ErrNotFound)
	}

	now := s.clock.Now()
	var (
		txs      []Transaction
		replay   bool
		shortage bool
	)
	p, err := s.store.UpdatePayout(ctx, id, func(p *Payout, b *Balance) ([]Transaction, error) {
		if p.Status.Final() {
			replay = true
			return nil, nil
		}
		if outcome.Status == PayoutFailed {
			p.Status = PayoutFailed
			p.FailureReason = outcome.Reason
			return nil, nil
		}
		// Подтвердить можно только перевод, который был передан провайдеру.
		if p.Status != PayoutProcessing {
			return nil, common.Invalid("status", "выплата ещё не передана провайдеру")
		}
		if b.Of(p.Currency) < p.Amount {
			shortage = true
			p.Status = PayoutFailed
			p.FailureReason = common.ErrInsufficientBalance.Error()
			return nil, nil
		}
		b.add(p.Currency, -p.Amount)
		p.Status = PayoutCompleted
		p.FailureReason = ""
		txs = []Transaction{{
			UserID:      p.UserID,
			Currency:    p.Currency,
			Amount:      -p.Amount,
			Type:        TxPayout,
			Description: "Выплата " + common.FormatNumber(p.Amount),
			ReferenceID: p.ReferenceID,
			CreatedAt:   now,
		}}
		return txs, nil
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{
		"payout_id": p.ID,
		"user_id":   p.UserID,
		"status":    p.Status,
	})
	switch {
	case replay:
		logger.Info("Повтор подтверждения выплаты пропущен")
	case shortage:
		s.metrics.IncInsufficientBalance("payout_settle")
		logger.Warn("Выплата отклонена: недостаточно средств")
	case p.Status == PayoutCompleted:
		s.recordMutation(txs)
		logger.WithField("amount", -p.Amount).Info("Выплата списана")
	default:
		logger.WithField("reason", p.FailureReason).Info("Выплата не состоялась")
	}
	return p, nil
}
