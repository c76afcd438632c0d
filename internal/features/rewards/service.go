package rewards

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/trust"
)

// Evaluator проверяет сессию просмотра.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string, s attention.Session) (attention.Verdict, error)
}

// TrustReader отдаёт состояние доверия устройства.
type TrustReader interface {
	State(ctx context.Context, userID, fingerprint string) (trust.State, error)
}

// Poster начисляет награду.
type Poster interface {
	PostReward(ctx context.Context, req ledger.RewardRequest) (ledger.RewardResult, error)
}

// Options — политика начисления.
type Options struct {
	BaseReward int64
	// PayReducedOnInvalid — платить уменьшенную награду за невалидную сессию вместо отказа.
	PayReducedOnInvalid bool
}

// Service обрабатывает заявки на награду.
type Service struct {
	validator Evaluator
	trust     TrustReader
	ledger    Poster
	opts      Options
}

// NewService создаёт сервис наград.
func NewService(validator Evaluator, trustReader TrustReader, poster Poster, opts Options) *Service {
	return &Service{validator: validator, trust: trustReader, ledger: poster, opts: opts}
}

// ClaimWatchReward проверяет сессию и начисляет награду, если позволяют проверка и доверие.
func (s *Service) ClaimWatchReward(ctx context.Context, c Claim) (Result, error) {
	if c.UserID == "" {
		return Result{}, common.ErrUnauthorized
	}
	if c.Session.DeviceFingerprint == "" {
		return Result{}, common.Invalid("deviceFingerprint", "обязательное поле")
	}

	verdict, err := s.validator.Evaluate(ctx, c.UserID, c.Session)
	if err != nil {
		return Result{}, err
	}
	res := Result{Verdict: verdict}

	st, err := s.trust.State(ctx, c.UserID, c.Session.DeviceFingerprint)
	if err != nil {
		return Result{}, err
	}
	res.Trust = st

	logger := log.WithFields(log.Fields{
		"user_id":     c.UserID,
		"fingerprint": c.Session.DeviceFingerprint,
		"score":       verdict.Score,
		"trust":       st.TrustScore,
	})

	if !st.IsTrusted {
		res.Status = StatusExcluded
		logger.Info("Награда не начислена: устройство не доверенное")
		return res, nil
	}
	if !verdict.IsValid && !s.opts.PayReducedOnInvalid {
		res.Status = StatusRejected
		logger.Info("Награда не начислена: сессия не прошла проверку")
		return res, nil
	}

	var ref string
	if c.SessionID != "" {
		ref = "watch:" + c.UserID + ":" + c.SessionID
	}
	posted, err := s.ledger.PostReward(ctx, ledger.RewardRequest{
		UserID:      c.UserID,
		Currency:    ledger.CurrencyPrimary,
		BaseAmount:  s.opts.BaseReward,
		Multiplier:  verdict.RewardMultiplier,
		Type:        ledger.TxEarned,
		Description: "Награда за просмотр",
		ReferenceID: ref,
	})
	if err != nil {
		return Result{}, err
	}

	res.Status = StatusPaid
	res.Amount = posted.Amount
	res.Balance = &posted.Balance
	return res, nil
}
