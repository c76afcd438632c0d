package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

var testOptions = Options{ExchangeRate: 10, ConvertMin: 100, ConvertMax: 100000, PayoutMin: 100}

// spyStore считает обращения к балансу.
type spyStore struct {
	Store
	calls atomic.Int32
}

func (s *spyStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	s.calls.Add(1)
	return s.Store.GetBalance(ctx, userID)
}

func (s *spyStore) Apply(ctx context.Context, m Mutation) (Balance, bool, error) {
	s.calls.Add(1)
	return s.Store.Apply(ctx, m)
}

type ledgerFixture struct {
	svc     *Service
	memory  *MemoryStore
	spy     *spyStore
	clock   *common.ManualClock
	gateway *gatewayStub
}

type gatewayStub struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (g *gatewayStub) Submit(_ context.Context, p Payout) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, p.ID)
	return g.err
}

func newLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	clock := &common.ManualClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := NewMemoryStore(clock)
	spy := &spyStore{Store: mem}
	gw := &gatewayStub{}
	return &ledgerFixture{
		svc:     NewService(spy, clock, testOptions, gw, metrics.Noop{}),
		memory:  mem,
		spy:     spy,
		clock:   clock,
		gateway: gw,
	}
}

// fund открывает баланс и начисляет основную валюту.
func (f *ledgerFixture) fund(t *testing.T, userID string, primary int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureBalance(ctx, userID))
	if primary > 0 {
		_, err := f.svc.PostReward(ctx, RewardRequest{
			UserID:     userID,
			BaseAmount: primary,
			Multiplier: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}
}

func (f *ledgerFixture) corrupt(userID string, c Currency, delta int64) {
	f.memory.mu.Lock()
	defer f.memory.mu.Unlock()
	b := f.memory.balances[userID]
	b.add(c, delta)
	f.memory.balances[userID] = b
}

func TestRewardAmount_Floors(t *testing.T) {
	tests := []struct {
		base       int64
		multiplier string
		want       int64
	}{
		{10, "1", 10},
		{10, "0.9", 9},
		{10, "0.75", 7},
		{10, "0.5", 5},
		{15, "0.9", 13},
		{1, "0.5", 0},
		{0, "1", 0},
	}
	for _, tt := range tests {
		got := RewardAmount(tt.base, decimal.RequireFromString(tt.multiplier))
		assert.Equal(t, tt.want, got, "%d × %s", tt.base, tt.multiplier)
	}
}

func TestPostReward_CreditsAndLogs(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 0)
	ctx := context.Background()

	res, err := f.svc.PostReward(ctx, RewardRequest{
		UserID:      "u1",
		BaseAmount:  10,
		Multiplier:  decimal.RequireFromString("0.75"),
		Description: "Просмотр",
	})
	require.NoError(t, err)
	assert.True(t, res.Posted)
	assert.Equal(t, int64(7), res.Amount)
	assert.Equal(t, int64(7), res.Balance.Primary)

	txs, err := f.svc.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TxEarned, txs[0].Type)
	assert.Equal(t, CurrencyPrimary, txs[0].Currency)
	assert.Equal(t, int64(7), txs[0].Amount)
}

func TestPostReward_ZeroIsNoop(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 5)
	ctx := context.Background()

	res, err := f.svc.PostReward(ctx, RewardRequest{UserID: "u1", BaseAmount: 1, Multiplier: decimal.RequireFromString("0.5")})
	require.NoError(t, err)
	assert.False(t, res.Posted)
	assert.Equal(t, int64(5), res.Balance.Primary)

	txs, err := f.svc.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestPostReward_SpinRewardAndReplay(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 0)
	ctx := context.Background()

	req := RewardRequest{
		UserID:      "u1",
		BaseAmount:  50,
		Multiplier:  decimal.NewFromInt(1),
		Type:        TxSpinReward,
		ReferenceID: "spin-1",
	}
	first, err := f.svc.PostReward(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.PostReward(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.Posted)
	assert.False(t, second.Posted)
	assert.Equal(t, int64(50), second.Balance.Primary)
}

func TestPostReward_Validation(t *testing.T) {
	f := newLedger(t)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	_, err := f.svc.PostReward(ctx, RewardRequest{UserID: "u1", BaseAmount: -1, Multiplier: one})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.PostReward(ctx, RewardRequest{UserID: "u1", BaseAmount: 1, Multiplier: one, Type: TxPurchase})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.PostReward(ctx, RewardRequest{UserID: "u1", BaseAmount: 1, Multiplier: one, Currency: "gold"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.PostReward(ctx, RewardRequest{BaseAmount: 1, Multiplier: one})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Zero(t, f.spy.calls.Load())

	_, err = f.svc.PostReward(ctx, RewardRequest{UserID: "ghost", BaseAmount: 1, Multiplier: one})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConvert_Balances(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 100000)
	ctx := context.Background()

	for amount := int64(100); amount <= 2000; amount += 130 {
		before, err := f.svc.Balance(ctx, "u1")
		require.NoError(t, err)

		res, err := f.svc.Convert(ctx, "u1", amount)
		require.NoError(t, err)

		assert.Equal(t, before.Primary, res.NewBalanceA+res.Spent)
		assert.Equal(t, before.Premium+res.Received, res.NewBalanceB)
		assert.Equal(t, res.Spent/10, res.Received)
		assert.Equal(t, int64(10), res.ExchangeRate)
	}
}

func TestConvert_TwoRowsShareReference(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 500)
	ctx := context.Background()

	res, err := f.svc.Convert(ctx, "u1", 300)
	require.NoError(t, err)

	txs, err := f.svc.Transactions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	types := map[TxType]Transaction{}
	for _, tx := range txs {
		assert.Equal(t, res.ReferenceID, tx.ReferenceID)
		types[tx.Type] = tx
	}
	assert.Equal(t, int64(-300), types[TxConvertedOut].Amount)
	assert.Equal(t, CurrencyPrimary, types[TxConvertedOut].Currency)
	assert.Equal(t, int64(30), types[TxConvertedIn].Amount)
	assert.Equal(t, CurrencyPremium, types[TxConvertedIn].Currency)
}

func TestConvert_RejectsBeforeTouchingStore(t *testing.T) {
	f := newLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{250, 0, -10, 90, 100010} {
		_, err := f.svc.Convert(ctx, "u1", amount)
		require.ErrorIs(t, err, common.ErrInvalidInput, "amount %d", amount)
		assert.Equal(t, "amount", common.FieldErrors(err)[0].Field)
	}
	assert.Zero(t, f.spy.calls.Load())
}

func TestConvert_InsufficientBalance(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 200)
	ctx := context.Background()

	_, err := f.svc.Convert(ctx, "u1", 300)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.Primary)
	assert.Zero(t, b.Premium)
}

func TestConvert_ConcurrentSameUserNeverOverdraws(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 1000)
	ctx := context.Background()

	const n = 25
	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		other        atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Convert(ctx, "u1", 1000)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, common.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), insufficient.Load())
	assert.Zero(t, other.Load())

	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, b.Primary)
	assert.Equal(t, int64(100), b.Premium)

	violations, err := f.svc.VerifyInvariant(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestConvert_DifferentUsersInParallel(t *testing.T) {
	f := newLedger(t)
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		f.fund(t, u, 1000)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				_, err := f.svc.Convert(ctx, userID, 200)
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	for _, u := range users {
		b, err := f.svc.Balance(ctx, u)
		require.NoError(t, err)
		assert.Zero(t, b.Primary, u)
		assert.Equal(t, int64(100), b.Premium, u)
	}
}

func TestSettlePurchase_Idempotent(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 0)
	ctx := context.Background()

	st := Settlement{UserID: "u1", ReferenceID: "pay_123", Amount: 500}
	first, err := f.svc.SettlePurchase(ctx, st)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(500), first.Balance.Premium)

	second, err := f.svc.SettlePurchase(ctx, st)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, int64(500), second.Balance.Premium)

	txs, err := f.svc.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TxPurchase, txs[0].Type)
	assert.Equal(t, "pay_123", txs[0].ReferenceID)
}

func TestSettlePurchase_ConcurrentReplays(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SettlePurchase(ctx, Settlement{UserID: "u1", ReferenceID: "pay_1", Amount: 100})
			if assert.NoError(t, err) && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	b, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Premium)
}

func TestSettlePurchase_Validation(t *testing.T) {
	f := newLedger(t)
	ctx := context.Background()

	_, err := f.svc.SettlePurchase(ctx, Settlement{UserID: "u1", Amount: 100})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.SettlePurchase(ctx, Settlement{UserID: "u1", ReferenceID: "r", Amount: 0})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = f.svc.SettlePurchase(ctx, Settlement{ReferenceID: "r", Amount: 10})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestSpend(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 100)
	ctx := context.Background()

	b, applied, err := f.svc.Spend(ctx, SpendRequest{UserID: "u1", Currency: CurrencyPrimary, Amount: 40, ReferenceID: "order-1"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(60), b.Primary)

	_, applied, err = f.svc.Spend(ctx, SpendRequest{UserID: "u1", Currency: CurrencyPrimary, Amount: 40, ReferenceID: "order-1"})
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = f.svc.Spend(ctx, SpendRequest{UserID: "u1", Currency: CurrencyPrimary, Amount: 61})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, _, err = f.svc.Spend(ctx, SpendRequest{UserID: "u1", Currency: CurrencyPremium, Amount: 0})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestVerifyInvariant_DetectsDrift(t *testing.T) {
	f := newLedger(t)
	f.fund(t, "u1", 100)
	f.fund(t, "u2", 100)
	ctx := context.Background()

	violations, err := f.svc.VerifyInvariant(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	f.corrupt("u2", CurrencyPremium, 7)
	violations, err = f.svc.VerifyInvariant(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, Violation{UserID: "u2", Currency: CurrencyPremium, Balance: 7, LedgerSum: 0}, violations[0])
}
