package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA"

func setRequired(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("ADMIN_TOKEN_HASH", testHash)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.AppStorage)
	assert.Equal(t, int64(10), cfg.LedgerExchangeRate)
	assert.Equal(t, int64(100), cfg.LedgerConvertMin)
	assert.Equal(t, 3, cfg.TrustMaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.JobsPayoutStaleAfter)
	assert.False(t, cfg.LedgerPayReducedReward)
	assert.Equal(t, "postgres://rewards:@postgres:5432/watch_rewards?sslmode=disable", cfg.DatabaseDSN())
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("ADMIN_TOKEN_HASH", testHash)
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_UnknownStorage(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_STORAGE", "sqlite")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ConvertBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_CONVERT_MIN", "500")
	t.Setenv("LEDGER_CONVERT_MAX", "100")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_AdminHashFormat(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("ADMIN_TOKEN_HASH", "plain-text")
	_, err := Load()
	assert.Error(t, err)
}
