// Package httpapi — HTTP-интерфейс сервиса на fiber.
// Обработчики зависят только от интерфейсов ниже, реализации собирает internal/app.
package httpapi

import (
	"context"
	"encoding/json"

	"serotonyl.ru/watch-rewards/internal/features/abuse"
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/profiles"
	"serotonyl.ru/watch-rewards/internal/features/rewards"
	"serotonyl.ru/watch-rewards/internal/features/trust"
)

type ProfileService interface {
	Register(ctx context.Context, userID string) (*profiles.Profile, error)
}

type AttentionService interface {
	Evaluate(ctx context.Context, userID string, session attention.Session) (attention.Verdict, error)
}

type TrustService interface {
	UpdateTrust(ctx context.Context, userID, fingerprint, event string, deviceInfo json.RawMessage) (*trust.DeviceRecord, error)
	State(ctx context.Context, userID, fingerprint string) (trust.State, error)
	Audit(ctx context.Context, userID, fingerprint string, limit int) ([]trust.AuditEntry, error)
}

type AbuseService interface {
	Record(ctx context.Context, e abuse.Event) (abuse.Event, error)
}

type LedgerService interface {
	Balance(ctx context.Context, userID string) (*ledger.Balance, error)
	Transactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)
	Convert(ctx context.Context, userID string, amount int64) (ledger.ConversionResult, error)
	Spend(ctx context.Context, req ledger.SpendRequest) (ledger.Balance, bool, error)
	RequestPayout(ctx context.Context, req ledger.PayoutRequest) (*ledger.Payout, error)
	Payout(ctx context.Context, userID, id string) (*ledger.Payout, error)
	SettlePurchase(ctx context.Context, st ledger.Settlement) (ledger.SettlementResult, error)
	SettlePayout(ctx context.Context, id string, outcome ledger.PayoutOutcome) (*ledger.Payout, error)
	VerifyInvariant(ctx context.Context) ([]ledger.Violation, error)
}

type RewardService interface {
	ClaimWatchReward(ctx context.Context, c rewards.Claim) (rewards.Result, error)
}

// AdminVerifier проверяет служебный токен с адреса ip.
type AdminVerifier interface {
	Verify(ctx context.Context, ip, token string) error
}
