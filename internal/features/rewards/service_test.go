package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/features/abuse"
	"serotonyl.ru/watch-rewards/internal/features/attention"
	"serotonyl.ru/watch-rewards/internal/features/ledger"
	"serotonyl.ru/watch-rewards/internal/features/profiles"
	"serotonyl.ru/watch-rewards/internal/features/trust"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

type stack struct {
	rewards *Service
	ledger  *ledger.Service
	trust   *trust.Service
	abuse   *abuse.Service
}

func newStack(t *testing.T, opts Options) *stack {
	t.Helper()
	clock := &common.ManualClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := metrics.Noop{}

	ledgerSvc := ledger.NewService(ledger.NewMemoryStore(clock), clock,
		ledger.Options{ExchangeRate: 10, ConvertMin: 100, ConvertMax: 100000, PayoutMin: 100},
		ledger.LogGateway{}, rec)
	profileSvc := profiles.NewService(profiles.NewMemoryStore(clock), ledgerSvc)
	abuseSvc := abuse.NewService(abuse.NewMemoryStore(), clock, rec)
	trustSvc := trust.NewService(trust.NewMemoryStore(), profileSvc, abuseSvc,
		trust.NewCache(1, time.Minute, clock), clock,
		trust.Options{Window: 24 * time.Hour, MaxRetries: 3}, rec)
	attentionSvc := attention.NewService(abuseSvc, 24*time.Hour, rec)

	_, err := profileSvc.Register(context.Background(), "u1")
	require.NoError(t, err)

	return &stack{
		rewards: NewService(attentionSvc, trustSvc, ledgerSvc, opts),
		ledger:  ledgerSvc,
		trust:   trustSvc,
		abuse:   abuseSvc,
	}
}

func session(att float64) attention.Session {
	return attention.Session{
		AttentionScore:    att,
		WatchDuration:     27,
		TotalDuration:     30,
		FramesDetected:    40,
		TotalFrames:       50,
		DeviceFingerprint: "fp-1",
	}
}

func TestClaim_PaysFullReward(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})

	res, err := s.rewards.ClaimWatchReward(context.Background(), Claim{UserID: "u1", Session: session(85)})
	require.NoError(t, err)

	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, int64(10), res.Amount)
	require.NotNil(t, res.Balance)
	assert.Equal(t, int64(10), res.Balance.Primary)
	assert.True(t, res.Trust.IsTrusted)
}

func TestClaim_ScalesByMultiplier(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})

	// внимание ниже 60: балл 70, множитель 0.75
	res, err := s.rewards.ClaimWatchReward(context.Background(), Claim{UserID: "u1", Session: session(40)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, int64(7), res.Amount)
}

func TestClaim_InvalidSessionRejectedByDefault(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})
	ctx := context.Background()

	bad := attention.Session{AttentionScore: 50, WatchDuration: 10, TotalDuration: 30, FramesDetected: 10, TotalFrames: 50, DeviceFingerprint: "fp-1"}
	res, err := s.rewards.ClaimWatchReward(ctx, Claim{UserID: "u1", Session: bad})
	require.NoError(t, err)
	s.abuse.Flush()

	assert.Equal(t, StatusRejected, res.Status)
	assert.False(t, res.Verdict.IsValid)

	txs, err := s.ledger.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestClaim_InvalidSessionPaidReducedWhenConfigured(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10, PayReducedOnInvalid: true})

	bad := attention.Session{AttentionScore: 50, WatchDuration: 10, TotalDuration: 30, FramesDetected: 10, TotalFrames: 50, DeviceFingerprint: "fp-1"}
	res, err := s.rewards.ClaimWatchReward(context.Background(), Claim{UserID: "u1", Session: bad})
	require.NoError(t, err)
	s.abuse.Flush()

	assert.Equal(t, StatusPaid, res.Status)
	assert.Equal(t, int64(5), res.Amount)
}

func TestClaim_UntrustedDeviceExcluded(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.trust.UpdateTrust(ctx, "u1", "fp-1", trust.EventSuspiciousActivity, nil)
		require.NoError(t, err)
	}

	res, err := s.rewards.ClaimWatchReward(ctx, Claim{UserID: "u1", Session: session(85)})
	require.NoError(t, err)

	assert.Equal(t, StatusExcluded, res.Status)
	assert.True(t, res.Verdict.IsValid)
	assert.Equal(t, 20, res.Trust.TrustScore)

	b, err := s.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, b.Primary)
}

func TestClaim_SessionReplayPaysOnce(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})
	ctx := context.Background()

	claim := Claim{UserID: "u1", Session: session(85), SessionID: "sess-1"}
	for i := 0; i < 2; i++ {
		_, err := s.rewards.ClaimWatchReward(ctx, claim)
		require.NoError(t, err)
	}

	b, err := s.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Primary)
}

func TestClaim_Errors(t *testing.T) {
	s := newStack(t, Options{BaseReward: 10})
	ctx := context.Background()

	_, err := s.rewards.ClaimWatchReward(ctx, Claim{Session: session(85)})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	noDevice := session(85)
	noDevice.DeviceFingerprint = ""
	_, err = s.rewards.ClaimWatchReward(ctx, Claim{UserID: "u1", Session: noDevice})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
