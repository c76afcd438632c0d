package postgres

// SQL-миграции встроены в код для упрощения деплоя.
// Порядок важен: внешние ключи ссылаются на profiles.
var migrations = []struct {
	version int
	sql     string
}{
	{1, migration001Profiles},
	{2, migration002Ledger},
	{3, migration003Payouts},
	{4, migration004Trust},
	{5, migration005Abuse},
}

var migration001Profiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS balances (
    user_id TEXT PRIMARY KEY REFERENCES profiles(user_id),
    primary_balance BIGINT NOT NULL DEFAULT 0 CHECK (primary_balance >= 0),
    premium_balance BIGINT NOT NULL DEFAULT 0 CHECK (premium_balance >= 0),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES profiles(user_id),
    currency VARCHAR(16) NOT NULL,
    amount BIGINT NOT NULL,
    type VARCHAR(32) NOT NULL,
    description TEXT,
    reference_id TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference_id);
CREATE TABLE IF NOT EXISTS settlements (
    reference_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES profiles(user_id),
    kind VARCHAR(32) NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`

var migration003Payouts = `
CREATE TABLE IF NOT EXISTS payouts (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES profiles(user_id),
    currency VARCHAR(16) NOT NULL,
    amount BIGINT NOT NULL CHECK (amount > 0),
    status VARCHAR(16) NOT NULL,
    reference_id TEXT UNIQUE NOT NULL,
    failure_reason TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status, created_at);
`

var migration004Trust = `
CREATE TABLE IF NOT EXISTS device_records (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES profiles(user_id),
    fingerprint TEXT NOT NULL,
    trust_score INTEGER NOT NULL CHECK (trust_score BETWEEN 0 AND 100),
    device_info JSONB,
    first_seen_at TIMESTAMPTZ NOT NULL,
    last_seen_at TIMESTAMPTZ NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    UNIQUE (user_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_device_records_first_seen ON device_records(user_id, first_seen_at);
CREATE TABLE IF NOT EXISTS trust_audit (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    event VARCHAR(64) NOT NULL,
    previous_score INTEGER NOT NULL,
    new_score INTEGER NOT NULL,
    delta INTEGER NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_trust_audit_device ON trust_audit(user_id, fingerprint, created_at DESC);
`

var migration005Abuse = `
CREATE TABLE IF NOT EXISTS abuse_events (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    type VARCHAR(64) NOT NULL,
    severity VARCHAR(16) NOT NULL,
    details JSONB,
    device_fingerprint TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_abuse_events_user ON abuse_events(user_id, created_at DESC);
`
