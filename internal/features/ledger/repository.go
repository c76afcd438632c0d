// Package ledger — repository.go выполняет все операции с таблицами balances,
// transactions, settlements и payouts.
//
// Проверка баланса и запись идут в одной транзакции БД под блокировкой строки
// баланса (SELECT ... FOR UPDATE). Разные пользователи друг друга не ждут.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/watch-rewards/internal/common"
	"serotonyl.ru/watch-rewards/internal/db/postgres"
)

// Repository работает с таблицами леджера.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий леджера.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectBalance = `
	SELECT user_id, primary_balance, premium_balance, updated_at
	FROM balances WHERE user_id = $1
`

const selectPayout = `
	SELECT id::text, user_id, currency, amount, status, reference_id,
	       COALESCE(failure_reason, ''), created_at, updated_at
	FROM payouts
`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.UserID, &b.Primary, &b.Premium, &b.UpdatedAt)
	return b, err
}

func scanPayout(row pgx.Row) (*Payout, error) {
	var p Payout
	err := row.Scan(&p.ID, &p.UserID, &p.Currency, &p.Amount, &p.Status,
		&p.ReferenceID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureBalance создаёт нулевой баланс. Повторный вызов ничего не делает.
func (r *Repository) EnsureBalance(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO balances (user_id, primary_balance, premium_balance)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ошибка создания баланса: %w", postgres.Classify(err))
	}
	return nil
}

// GetBalance возвращает текущий баланс пользователя.
func (r *Repository) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	b, err := scanBalance(r.db.QueryRow(ctx, selectBalance, userID))
	if err != nil {
		return nil, fmt.Errorf("баланс %q: %w", userID, postgres.Classify(err))
	}
	return &b, nil
}

// Apply выполняет мутацию в одной транзакции.
//
// Ключ идемпотентности вставляется в settlements первым: параллельный повтор
// того же события ждёт на уникальном индексе и после фиксации первого
// получает DO NOTHING.
func (r *Repository) Apply(ctx context.Context, m Mutation) (Balance, bool, error) {
	var (
		result  Balance
		applied bool
	)
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if m.IdempotencyKey != "" {
			tag, err := tx.Exec(ctx, `
				INSERT INTO settlements (reference_id, user_id, kind)
				VALUES ($1, $2, $3)
				ON CONFLICT (reference_id) DO NOTHING
			`, m.IdempotencyKey, m.UserID, m.Kind)
			if err != nil {
				return fmt.Errorf("ошибка записи расчёта: %w", postgres.Classify(err))
			}
			if tag.RowsAffected() == 0 {
				b, err := scanBalance(tx.QueryRow(ctx, selectBalance, m.UserID))
				if err != nil {
					return fmt.Errorf("баланс %q: %w", m.UserID, postgres.Classify(err))
				}
				result = b
				return nil
			}
		}

		b, err := scanBalance(tx.QueryRow(ctx, selectBalance+" FOR UPDATE", m.UserID))
		if err != nil {
			return fmt.Errorf("баланс %q: %w", m.UserID, postgres.Classify(err))
		}

		txs, err := m.Fn(&b)
		if err != nil {
			return err
		}
		if err := writeBalance(ctx, tx, &b); err != nil {
			return err
		}
		if err := insertTransactions(ctx, tx, txs); err != nil {
			return err
		}
		result, applied = b, true
		return nil
	})
	if err != nil {
		return Balance{}, false, err
	}
	return result, applied, nil
}

func writeBalance(ctx context.Context, tx pgx.Tx, b *Balance) error {
	if b.Primary < 0 || b.Premium < 0 {
		return common.ErrInsufficientBalance
	}
	err := tx.QueryRow(ctx, `
		UPDATE balances
		SET primary_balance = $2, premium_balance = $3, updated_at = NOW()
		WHERE user_id = $1
		RETURNING updated_at
	`, b.UserID, b.Primary, b.Premium).Scan(&b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", postgres.Classify(err))
	}
	return nil
}

// insertTransactions пишет строки истории одним батчем.
func insertTransactions(ctx context.Context, tx pgx.Tx, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(`
			INSERT INTO transactions (user_id, currency, amount, type, description, reference_id, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		`, t.UserID, string(t.Currency), t.Amount, string(t.Type), t.Description, t.ReferenceID, t.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ошибка записи транзакции: %w", postgres.Classify(err))
	}
	return nil
}

// ListTransactions возвращает последние limit транзакций пользователя.
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, currency, amount, type, COALESCE(description, ''),
		       COALESCE(reference_id, ''), created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", postgres.Classify(err))
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Currency, &t.Amount, &t.Type,
			&t.Description, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CreatePayout создаёт выплату или возвращает уже созданную с тем же reference_id.
func (r *Repository) CreatePayout(ctx context.Context, p Payout) (*Payout, bool, error) {
	created, err := scanPayout(r.db.QueryRow(ctx, `
		INSERT INTO payouts (id, user_id, currency, amount, status, reference_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (reference_id) DO NOTHING
		RETURNING id::text, user_id, currency, amount, status, reference_id,
		          COALESCE(failure_reason, ''), created_at, updated_at
	`, p.ID, p.UserID, string(p.Currency), p.Amount, string(p.Status), p.ReferenceID, p.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ошибка создания выплаты: %w", postgres.Classify(err))
	}

	existing, err := scanPayout(r.db.QueryRow(ctx, selectPayout+" WHERE reference_id = $1", p.ReferenceID))
	if err != nil {
		return nil, false, fmt.Errorf("выплата %q: %w", p.ReferenceID, postgres.Classify(err))
	}
	return existing, false, nil
}

// GetPayout возвращает выплату по ID.
func (r *Repository) GetPayout(ctx context.Context, id string) (*Payout, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, selectPayout+" WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("выплата %q: %w", id, postgres.Classify(err))
	}
	return p, nil
}

// GetPayoutByReference возвращает выплату по reference_id клиента.
func (r *Repository) GetPayoutByReference(ctx context.Context, referenceID string) (*Payout, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, selectPayout+" WHERE reference_id = $1", referenceID))
	if err != nil {
		return nil, fmt.Errorf("выплата %q: %w", referenceID, postgres.Classify(err))
	}
	return p, nil
}

// ListPayoutsByStatus возвращает самые старые выплаты в статусе status.
func (r *Repository) ListPayoutsByStatus(ctx context.Context, status PayoutStatus, limit int) ([]Payout, error) {
	rows, err := r.db.Query(ctx, selectPayout+`
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат: %w", postgres.Classify(err))
	}
	defer rows.Close()

	payouts := []Payout{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования выплаты: %w", err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// UpdatePayout меняет выплату и баланс владельца в одной транзакции.
// Порядок блокировок всегда: выплата, затем баланс.
func (r *Repository) UpdatePayout(ctx context.Context, id string,
	fn func(p *Payout, b *Balance) ([]Transaction, error)) (*Payout, error) {
	var result *Payout
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPayout(tx.QueryRow(ctx, selectPayout+" WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return fmt.Errorf("выплата %q: %w", id, postgres.Classify(err))
		}
		b, err := scanBalance(tx.QueryRow(ctx, selectBalance+" FOR UPDATE", p.UserID))
		if err != nil {
			return fmt.Errorf("баланс %q: %w", p.UserID, postgres.Classify(err))
		}

		txs, err := fn(p, &b)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE payouts
			SET status = $2, failure_reason = NULLIF($3, ''), updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`, id, string(p.Status), p.FailureReason).Scan(&p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ошибка обновления выплаты: %w", postgres.Classify(err))
		}
		if len(txs) > 0 {
			if err := writeBalance(ctx, tx, &b); err != nil {
				return err
			}
			if err := insertTransactions(ctx, tx, txs); err != nil {
				return err
			}
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FindInvariantViolations сверяет каждый счёт с суммой его транзакций.
func (r *Repository) FindInvariantViolations(ctx context.Context) ([]Violation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.user_id, c.currency, c.balance, COALESCE(SUM(t.amount), 0)::BIGINT
		FROM balances b
		CROSS JOIN LATERAL (VALUES ('primary', b.primary_balance), ('premium', b.premium_balance)) AS c(currency, balance)
		LEFT JOIN transactions t ON t.user_id = b.user_id AND t.currency = c.currency
		GROUP BY b.user_id, c.currency, c.balance
		HAVING c.balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY b.user_id, c.currency
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки леджера: %w", postgres.Classify(err))
	}
	defer rows.Close()

	violations := []Violation{}
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.UserID, &v.Currency, &v.Balance, &v.LedgerSum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сверки: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
