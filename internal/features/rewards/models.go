// Package rewards — награда за просмотр: проверка внимания, затем доверие устройства, затем начисление.
// Шаги идут последовательно в рамках одного запроса, промежуточного состояния нет.
package rewards

import (
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/trust"
)

// Status — итог заявки на награду.
type Status string

const (
	StatusPaid Status = "paid"
	// StatusRejected — сессия не прошла проверку и политика не платит за невалидные.
	StatusRejected Status = "rejected"
	// StatusExcluded — устройство не доверенное, награда не начисляется.
	StatusExcluded Status = "excluded"
)

// Claim — заявка на награду за одну сессию просмотра.
type Claim struct {
	UserID  string
	Session attention.Session
	// SessionID — идентификатор сессии у клиента. Повторная заявка с ним не начислит второй раз.
	SessionID string
}

// Result — итог заявки.
type Result struct {
	Status  Status
	Verdict attention.Verdict
	Trust   trust.State
	Amount  int64
	Balance *ledger.Balance
}
