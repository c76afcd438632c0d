package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/watch-rewards/internal/common"
)

func (f *ledgerFixture) fundPremium(t *testing.T, userID string, premium int64) {
	t.Helper()
	require.NoError(t, f.svc.EnsureBalance(context.Background(), userID))
	_, err := f.svc.SettlePurchase(context.Background(), Settlement{
		UserID:      userID,
		ReferenceID: "seed-" + userID,
		Amount:      premium,
	})
	require.NoError(t, err)
}

func TestRequestPayout_LeavesBalanceUntouched(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	assert.Equal(t, PayoutRequested, p.Status)
	assert.Equal(t, CurrencyPremium, p.Currency)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Premium)

	again, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestRequestPayout_Validation(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 150)
	f.fundPremium(t, "u2", 150)
	ctx := context.Background()

	_, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 50, ReferenceID: "w"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 100})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 200, ReferenceID: "w"})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 100, ReferenceID: "shared"})
	require.NoError(t, err)
	_, err = f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u2", Amount: 100, ReferenceID: "shared"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestPayout_FullLifecycle(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)

	n, err := f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{p.ID}, f.gateway.submitted)

	got, err := f.svc.Payout(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, PayoutProcessing, got.Status)

	n, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "выплата в работе повторно не отправляется")

	done, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, PayoutCompleted, done.Status)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.Premium)

	// повтор вебхука
	replay, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, PayoutCompleted, replay.Status)
	b, err = f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.Premium)

	txs, err := f.svc.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	payouts := 0
	for _, tx := range txs {
		if tx.Type == TxPayout {
			payouts++
			assert.Equal(t, int64(-300), tx.Amount)
		}
	}
	assert.Equal(t, 1, payouts)

	violations, err := f.svc.VerifyInvariant(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestPayout_FailedLeavesBalance(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)

	failed, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutFailed, Reason: "card declined"})
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)

	// поздний completed после failed ничего не списывает
	late, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, late.Status)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Premium)
}

func TestPayout_InsufficientAtSettlement(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 400, ReferenceID: "w-1"})
	require.NoError(t, err)

	_, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	_, _, err = f.svc.Spend(ctx, SpendRequest{UserID: "u1", Currency: CurrencyPremium, Amount: 200})
	require.NoError(t, err)

	res, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, res.Status)
	assert.Equal(t, common.ErrInsufficientBalance.Error(), res.FailureReason)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), b.Premium)
}

func TestDispatchPayouts_GatewayErrorFails(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	f.gateway.err = errors.New("provider timeout")
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 100, ReferenceID: "w-1"})
	require.NoError(t, err)

	n, err := f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.svc.Payout(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, got.Status)
	assert.Equal(t, "provider timeout", got.FailureReason)
}

func TestDispatchPayouts_OldestFirstWithinBatch(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 1000)
	ctx := context.Background()

	var ids []string
	for _, ref := range []string{"w-1", "w-2", "w-3"} {
		p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 100, ReferenceID: ref})
		require.NoError(t, err)
		ids = append(ids, p.ID)
		f.clock.Advance(time.Second)
	}

	n, err := f.svc.DispatchPayouts(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids[:2], f.gateway.submitted)
}

func TestPayout_LookupRules(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 100, ReferenceID: "w-1"})
	require.NoError(t, err)

	_, err = f.svc.Payout(ctx, "u2", p.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.svc.Payout(ctx, "u1", "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutProcessing})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestSettlePayout_CompletedNeedsDispatch(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)

	_, err = f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Empty(t, f.gateway.submitted)

	got, err := f.svc.Payout(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, PayoutRequested, got.Status)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Premium)

	// после передачи провайдеру подтверждение проходит
	_, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	done, err := f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)
	assert.Equal(t, PayoutCompleted, done.Status)
}

func TestRequestPayout_ReplayAfterCompletion(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 300)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	_, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)
	_, err = f.svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
	require.NoError(t, err)

	again, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, PayoutCompleted, again.Status)

	_, err = f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u2", Amount: 300, ReferenceID: "w-1"})
	assert.ErrorIs(t, err, common.ErrConflict)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, b.Premium)
}

func TestResubmitStalePayouts(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	_, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)

	n, err := f.svc.ResubmitStalePayouts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "свежая выплата не трогается")

	f.clock.Advance(time.Hour)
	n, err = f.svc.ResubmitStalePayouts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{p.ID, p.ID}, f.gateway.submitted)

	// следующий проход ждёт ещё staleAfter
	n, err = f.svc.ResubmitStalePayouts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.svc.Payout(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, PayoutProcessing, got.Status)
}

func TestResubmitStalePayouts_GatewayErrorFails(t *testing.T) {
	f := newLedger(t)
	f.fundPremium(t, "u1", 500)
	ctx := context.Background()

	p, err := f.svc.RequestPayout(ctx, PayoutRequest{UserID: "u1", Amount: 300, ReferenceID: "w-1"})
	require.NoError(t, err)
	_, err = f.svc.DispatchPayouts(ctx, 10)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	f.gateway.err = errors.New("unknown payout")
	n, err := f.svc.ResubmitStalePayouts(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.svc.Payout(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, got.Status)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Premium)
}
