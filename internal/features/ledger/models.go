// Package ledger — единственное место, где меняются балансы.
//
// У пользователя два счёта: основной (начисляется за активность) и премиальный
// (покупается за деньги или получается конвертацией из основного).
// Каждое изменение баланса атомарно с записью в transactions, поэтому сумма
// знаковых сумм по валюте всегда равна текущему балансу.
package ledger

import (
	"context"
	"time"
)

// Currency — валюта счёта.
type Currency string

const (
	// CurrencyPrimary — основная валюта, зарабатывается просмотрами.
	CurrencyPrimary Currency = "primary"
	// CurrencyPremium — премиальная валюта, покупается или конвертируется.
	CurrencyPremium Currency = "premium"
)

// Valid сообщает, известна ли валюта.
func (c Currency) Valid() bool {
	return c == CurrencyPrimary || c == CurrencyPremium
}

// TxType — тип транзакции.
type TxType string

const (
	TxEarned       TxType = "earned"
	TxSpinReward   TxType = "spin_reward"
	TxSpent        TxType = "spent"
	TxConvertedOut TxType = "converted_out"
	TxConvertedIn  TxType = "converted_in"
	TxPurchase     TxType = "purchase"
	TxPayout       TxType = "payout"
)

// Balance — два счёта пользователя. Оба никогда не бывают отрицательными.
type Balance struct {
	UserID    string    `json:"userId"`
	Primary   int64     `json:"primaryBalance"`
	Premium   int64     `json:"premiumBalance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Of возвращает остаток в валюте c.
func (b *Balance) Of(c Currency) int64 {
	if c == CurrencyPremium {
		return b.Premium
	}
	return b.Primary
}

// add меняет остаток в валюте c на delta.
func (b *Balance) add(c Currency, delta int64) {
	if c == CurrencyPremium {
		b.Premium += delta
		return
	}
	b.Primary += delta
}

// Transaction — неизменяемая запись истории. Amount со знаком: списание отрицательное.
type Transaction struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Currency    Currency  `json:"currency"`
	Amount      int64     `json:"amount"`
	Type        TxType    `json:"type"`
	Description string    `json:"description"`
	ReferenceID string    `json:"referenceId,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Mutation — одно атомарное изменение баланса пользователя.
//
// Хранилище блокирует баланс, вызывает Fn с заблокированной копией,
// сохраняет изменённый баланс и возвращённые транзакции. Ошибка Fn
// откатывает всё. Если IdempotencyKey уже встречался, Fn не вызывается.
type Mutation struct {
	UserID         string
	IdempotencyKey string
	Kind           string
	Fn             func(b *Balance) ([]Transaction, error)
}

// PayoutStatus — состояние выплаты.
type PayoutStatus string

// requested → processing → completed | failed
const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Final — выплата завершена и больше не меняется.
func (s PayoutStatus) Final() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

// Payout — вывод средств через внешнего провайдера.
// Баланс списывается только после подтверждения перевода.
type Payout struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Currency      Currency     `json:"currency"`
	Amount        int64        `json:"amount"`
	Status        PayoutStatus `json:"status"`
	ReferenceID   string       `json:"referenceId"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Violation — расхождение баланса с суммой транзакций.
type Violation struct {
	UserID    string   `json:"userId"`
	Currency  Currency `json:"currency"`
	Balance   int64    `json:"balance"`
	LedgerSum int64    `json:"ledgerSum"`
}

// Store — хранилище балансов, транзакций и выплат.
type Store interface {
	// EnsureBalance создаёт нулевой баланс, если его нет.
	EnsureBalance(ctx context.Context, userID string) error
	// GetBalance возвращает баланс или common.ErrNotFound.
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	// Apply выполняет мутацию атомарно. applied=false — повтор по ключу идемпотентности.
	Apply(ctx context.Context, m Mutation) (Balance, bool, error)
	// ListTransactions возвращает последние транзакции, новые первыми.
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)

	// CreatePayout создаёт выплату. Если выплата с таким ReferenceID уже есть,
	// возвращает её и created=false.
	CreatePayout(ctx context.Context, p Payout) (*Payout, bool, error)
	GetPayout(ctx context.Context, id string) (*Payout, error)
	// GetPayoutByReference ищет выплату по ключу клиента или возвращает common.ErrNotFound.
	GetPayoutByReference(ctx context.Context, referenceID string) (*Payout, error)
	ListPayoutsByStatus(ctx context.Context, status PayoutStatus, limit int) ([]Payout, error)
	// UpdatePayout блокирует выплату, затем баланс её владельца, и вызывает fn.
	// Изменения выплаты, баланса и новые транзакции сохраняются вместе.
	UpdatePayout(ctx context.Context, id string, fn func(p *Payout, b *Balance) ([]Transaction, error)) (*Payout, error)

	// FindInvariantViolations ищет балансы, не совпадающие с суммой транзакций.
	FindInvariantViolations(ctx context.Context) ([]Violation, error)
}
