// Package ledger — service.go содержит бизнес-логику леджера:
// начисления, конвертацию, расчёты по покупкам и выплаты.
//
// Все проверки входных данных выполняются до обращения к хранилищу.
// Проверка достаточности средств — только внутри Mutation.Fn, под блокировкой.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

// Options — параметры леджера.
type Options struct {
	// ExchangeRate — сколько единиц основной валюты стоит одна премиальная.
	ExchangeRate int64
	ConvertMin   int64
	ConvertMax   int64
	PayoutMin    int64
}

// Service — леджер.
type Service struct {
	store   Store
	clock   common.Clock
	opts    Options
	gateway PayoutGateway
	metrics metrics.Recorder
}

// NewService создаёт сервис леджера.
func NewService(store Store, clock common.Clock, opts Options, gateway PayoutGateway, rec metrics.Recorder) *Service {
	return &Service{store: store, clock: clock, opts: opts, gateway: gateway, metrics: rec}
}

// EnsureBalance открывает нулевой баланс пользователю.
func (s *Service) EnsureBalance(ctx context.Context, userID string) error {
	return s.store.EnsureBalance(ctx, userID)
}

// Balance возвращает баланс пользователя.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	return s.store.GetBalance(ctx, userID)
}

// Transactions возвращает историю пользователя, новые записи первыми.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

func (s *Service) recordMutation(txs []Transaction) {
	for _, t := range txs {
		s.metrics.IncLedgerMutation(string(t.Type))
	}
}

func (s *Service) insufficient(operation string, err error) error {
	if errors.Is(err, common.ErrInsufficientBalance) {
		s.metrics.IncInsufficientBalance(operation)
	}
	return err
}

// RewardRequest — начисление награды.
type RewardRequest struct {
	UserID      string
	Currency    Currency
	BaseAmount  int64
	Multiplier  decimal.Decimal
	Type        TxType
	Description string
	// ReferenceID делает начисление идемпотентным. Пустой — без проверки повторов.
	ReferenceID string
}

// RewardResult — итог начисления.
type RewardResult struct {
	Amount  int64   `json:"amount"`
	Balance Balance `json:"balance"`
	// Posted — транзакция записана. false для нулевой суммы и повторов.
	Posted bool `json:"posted"`
}

// RewardAmount — floor(base × multiplier) без ошибок округления float.
func RewardAmount(base int64, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(multiplier).Floor().IntPart()
}

// PostReward начисляет награду, умноженную на множитель.
// Нулевая сумма — успешный no-op.
func (s *Service) PostReward(ctx context.Context, req RewardRequest) (RewardResult, error) {
	if req.UserID == "" {
		return RewardResult{}, common.ErrUnauthorized
	}
	if req.Currency == "" {
		req.Currency = CurrencyPrimary
	}
	if !req.Currency.Valid() {
		return RewardResult{}, common.Invalid("currency", "допустимо: primary, premium")
	}
	if req.Type == "" {
		req.Type = TxEarned
	}
	if req.Type != TxEarned && req.Type != TxSpinReward {
		return RewardResult{}, common.Invalid("type", "допустимо: earned, spin_reward")
	}
	if req.BaseAmount < 0 {
		return RewardResult{}, common.Invalid("baseAmount", "не может быть отрицательной")
	}
	if req.Multiplier.IsNegative() {
		return RewardResult{}, common.Invalid("multiplier", "не может быть отрицательным")
	}

	amount := RewardAmount(req.BaseAmount, req.Multiplier)
	if amount == 0 {
		b, err := s.store.GetBalance(ctx, req.UserID)
		if err != nil {
			return RewardResult{}, err
		}
		return RewardResult{Balance: *b}, nil
	}

	now := s.clock.Now()
	var key string
	if req.ReferenceID != "" {
		key = "reward:" + req.ReferenceID
	}
	b, applied, err := s.store.Apply(ctx, Mutation{
		UserID:         req.UserID,
		IdempotencyKey: key,
		Kind:           string(req.Type),
		Fn: func(b *Balance) ([]Transaction, error) {
			b.add(req.Currency, amount)
			return []Transaction{{
				UserID:      req.UserID,
				Currency:    req.Currency,
				Amount:      amount,
				Type:        req.Type,
				Description: req.Description,
				ReferenceID: req.ReferenceID,
				CreatedAt:   now,
			}}, nil
		},
	})
	if err != nil {
		return RewardResult{}, err
	}
	if applied {
		s.metrics.IncLedgerMutation(string(req.Type))
		log.WithFields(log.Fields{
			"user_id":    req.UserID,
			"currency":   req.Currency,
			"amount":     amount,
			"multiplier": req.Multiplier.String(),
			"balance":    b.Of(req.Currency),
		}).Info("Начислена награда")
	}
	return RewardResult{Amount: amount, Balance: b, Posted: applied}, nil
}

// ConversionResult — итог конвертации.
type ConversionResult struct {
	Spent        int64  `json:"spent"`
	Received     int64  `json:"received"`
	NewBalanceA  int64  `json:"newBalanceA"`
	NewBalanceB  int64  `json:"newBalanceB"`
	ExchangeRate int64  `json:"exchangeRate"`
	ReferenceID  string `json:"referenceId"`
}

// ValidateConversion проверяет сумму конвертации без обращения к хранилищу.
func (s *Service) ValidateConversion(amount int64) error {
	switch {
	case amount <= 0:
		return common.Invalid("amount", "должна быть положительной")
	case amount < s.opts.ConvertMin:
		return common.Invalid("amount", fmt.Sprintf("минимум %d", s.opts.ConvertMin))
	case amount > s.opts.ConvertMax:
		return common.Invalid("amount", fmt.Sprintf("максимум %d", s.opts.ConvertMax))
	case amount%s.opts.ExchangeRate != 0:
		return common.Invalid("amount", fmt.Sprintf("должна быть кратна %d", s.opts.ExchangeRate))
	}
	return nil
}

// Convert обменивает основную валюту на премиальную по фиксированному курсу.
// Проверка остатка, списание, зачисление и две строки истории — одна атомарная операция.
func (s *Service) Convert(ctx context.Context, userID string, amount int64) (ConversionResult, error) {
	if userID == "" {
		return ConversionResult{}, common.ErrUnauthorized
	}
	if err := s.ValidateConversion(amount); err != nil {
		return ConversionResult{}, err
	}

	received := amount / s.opts.ExchangeRate
	ref := uuid.NewString()
	now := s.clock.Now()

	var txs []Transaction
	b, _, err := s.store.Apply(ctx, Mutation{
		UserID: userID,
		Kind:   "conversion",
		Fn: func(b *Balance) ([]Transaction, error) {
			if b.Primary < amount {
				return nil, fmt.Errorf("нужно %d, есть %d: %w", amount, b.Primary, common.ErrInsufficientBalance)
			}
			b.Primary -= amount
			b.Premium += received
			txs = []Transaction{
				{
					UserID:      userID,
					Currency:    CurrencyPrimary,
					Amount:      -amount,
					Type:        TxConvertedOut,
					Description: fmt.Sprintf("Конвертация %s", common.FormatNumber(amount)),
					ReferenceID: ref,
					CreatedAt:   now,
				},
				{
					UserID:      userID,
					Currency:    CurrencyPremium,
					Amount:      received,
					Type:        TxConvertedIn,
					Description: fmt.Sprintf("Конвертация %s", common.FormatNumber(amount)),
					ReferenceID: ref,
					CreatedAt:   now,
				},
			}
			return txs, nil
		},
	})
	if err != nil {
		return ConversionResult{}, s.insufficient("convert", err)
	}

	s.recordMutation(txs)
	log.WithFields(log.Fields{
		"user_id":   userID,
		"spent":     amount,
		"received":  received,
		"reference": ref,
	}).Info("Конвертация выполнена")

	return ConversionResult{
		Spent:        amount,
		Received:     received,
		NewBalanceA:  b.Primary,
		NewBalanceB:  b.Premium,
		ExchangeRate: s.opts.ExchangeRate,
		ReferenceID:  ref,
	}, nil
}

// SpendRequest — списание за покупку внутри приложения.
type SpendRequest struct {
	UserID      string
	Currency    Currency
	Amount      int64
	Description string
	ReferenceID string
}

// Spend списывает сумму с баланса. С ReferenceID повтор не спишет второй раз.
func (s *Service) Spend(ctx context.Context, req SpendRequest) (Balance, bool, error) {
	if req.UserID == "" {
		return Balance{}, false, common.ErrUnauthorized
	}
	if !req.Currency.Valid() {
		return Balance{}, false, common.Invalid("currency", "допустимо: primary, premium")
	}
	if req.Amount <= 0 {
		return Balance{}, false, common.Invalid("amount", "должна быть положительной")
	}

	now := s.clock.Now()
	var key string
	if req.ReferenceID != "" {
		key = "spend:" + req.ReferenceID
	}
	b, applied, err := s.store.Apply(ctx, Mutation{
		UserID:         req.UserID,
		IdempotencyKey: key,
		Kind:           string(TxSpent),
		Fn: func(b *Balance) ([]Transaction, error) {
			if b.Of(req.Currency) < req.Amount {
				return nil, fmt.Errorf("нужно %d, есть %d: %w", req.Amount, b.Of(req.Currency), common.ErrInsufficientBalance)
			}
			b.add(req.Currency, -req.Amount)
			return []Transaction{{
				UserID:      req.UserID,
				Currency:    req.Currency,
				Amount:      -req.Amount,
				Type:        TxSpent,
				Description: req.Description,
				ReferenceID: req.ReferenceID,
				CreatedAt:   now,
			}}, nil
		},
	})
	if err != nil {
		return Balance{}, false, s.insufficient("spend", err)
	}
	if applied {
		s.metrics.IncLedgerMutation(string(TxSpent))
		log.WithFields(log.Fields{
			"user_id":  req.UserID,
			"currency": req.Currency,
			"amount":   -req.Amount,
		}).Info("Списание выполнено")
	}
	return b, applied, nil
}

// Settlement — подтверждённая покупка премиальной валюты у платёжного провайдера.
type Settlement struct {
	UserID      string `json:"userId" validate:"required"`
	ReferenceID string `json:"referenceId" validate:"required,max=128"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=256"`
}

// SettlementResult — итог расчёта.
type SettlementResult struct {
	Balance Balance `json:"balance"`
	// Applied=false — событие с этим referenceId уже было учтено.
	Applied bool `json:"applied"`
}

// SettlePurchase зачисляет купленную премиальную валюту.
// Повтор с тем же ReferenceID ничего не меняет.
func (s *Service) SettlePurchase(ctx context.Context, st Settlement) (SettlementResult, error) {
	if st.UserID == "" {
		return SettlementResult{}, common.Invalid("userId", "обязательное поле")
	}
	if st.ReferenceID == "" {
		return SettlementResult{}, common.Invalid("referenceId", "обязательное поле")
	}
	if st.Amount <= 0 {
		return SettlementResult{}, common.Invalid("amount", "должна быть положительной")
	}
	if st.Description == "" {
		st.Description = "Покупка " + common.FormatSigned(st.Amount, "premium")
	}

	now := s.clock.Now()
	b, applied, err := s.store.Apply(ctx, Mutation{
		UserID:         st.UserID,
		IdempotencyKey: "purchase:" + st.ReferenceID,
		Kind:           string(TxPurchase),
		Fn: func(b *Balance) ([]Transaction, error) {
			b.Premium += st.Amount
			return []Transaction{{
				UserID:      st.UserID,
				Currency:    CurrencyPremium,
				Amount:      st.Amount,
				Type:        TxPurchase,
				Description: st.Description,
				ReferenceID: st.ReferenceID,
				CreatedAt:   now,
			}}, nil
		},
	})
	if err != nil {
		return SettlementResult{}, err
	}

	logger := log.WithFields(log.Fields{
		"user_id":   st.UserID,
		"reference": st.ReferenceID,
		"amount":    st.Amount,
	})
	if applied {
		s.metrics.IncLedgerMutation(string(TxPurchase))
		logger.Info("Покупка зачислена")
	} else {
		logger.Info("Повтор расчёта по покупке пропущен")
	}
	return SettlementResult{Balance: b, Applied: applied}, nil
}

// VerifyInvariant ищет счета, где баланс не равен сумме транзакций.
func (s *Service) VerifyInvariant(ctx context.Context) ([]Violation, error) {
	violations, err := s.store.FindInvariantViolations(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		log.WithFields(log.Fields{
			"user_id":    v.UserID,
			"currency":   v.Currency,
			"balance":    v.Balance,
			"ledger_sum": v.LedgerSum,
		}).Error("Баланс не совпадает с историей транзакций")
	}
	return violations, nil
}
