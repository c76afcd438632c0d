package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/db/postgres"
	"serotonyl.ru/watch-rewards/internal/metrics"
)

// testPool подключается к TEST_DATABASE_URL и применяет миграции.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPoolFromDSN(ctx, dsn, 10, 1)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

func newPgUser(t *testing.T, pool *pgxpool.Pool, repo *Repository) string {
	t.Helper()
	ctx := context.Background()
	userID := "test-" + uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1)`, userID)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureBalance(ctx, userID))
	return userID
}

func TestRepository_ConcurrentConvert(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	svc := NewService(repo, common.SystemClock{}, testOptions, LogGateway{}, metrics.Noop{})
	ctx := context.Background()

	userID := newPgUser(t, pool, repo)
	_, err := svc.PostReward(ctx, RewardRequest{UserID: userID, BaseAmount: 1000, Multiplier: decimal.NewFromInt(1)})
	require.NoError(t, err)

	const n = 10
	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Convert(ctx, userID, 1000)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, common.ErrInsufficientBalance):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), insufficient.Load())

	b, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, b.Primary)
	assert.Equal(t, int64(100), b.Premium)
}

func TestRepository_SettlementAndPayout(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	svc := NewService(repo, common.SystemClock{}, testOptions, LogGateway{}, metrics.Noop{})
	ctx := context.Background()

	userID := newPgUser(t, pool, repo)
	ref := "pay-" + uuid.NewString()
	for i := 0; i < 2; i++ {
		_, err := svc.SettlePurchase(ctx, Settlement{UserID: userID, ReferenceID: ref, Amount: 500})
		require.NoError(t, err)
	}

	p, err := svc.RequestPayout(ctx, PayoutRequest{UserID: userID, Amount: 200, ReferenceID: "w-" + uuid.NewString()})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.SettlePayout(ctx, p.ID, PayoutOutcome{Status: PayoutCompleted})
		require.NoError(t, err)
	}

	b, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), b.Premium)

	txs, err := svc.Transactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	violations, err := svc.VerifyInvariant(ctx)
	require.NoError(t, err)
	for _, v := range violations {
		assert.NotEqual(t, userID, v.UserID)
	}
}
