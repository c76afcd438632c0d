package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"serotonyl.ru/watch-rewards/internal/common"
)

// MemoryStore — леджер в памяти.
// Мутации одного пользователя сериализуются его собственным мьютексом,
// разные пользователи работают параллельно. mu защищает только карты.
type MemoryStore struct {
	clock common.Clock
	locks sync.Map // userID -> *sync.Mutex

	mu          sync.RWMutex
	nextTxID    int64
	balances    map[string]Balance
	txs         map[string][]Transaction
	settlements map[string]string
	payouts     map[string]Payout
	payoutRefs  map[string]string
}

// NewMemoryStore создаёт пустой леджер.
func NewMemoryStore(clock common.Clock) *MemoryStore {
	return &MemoryStore{
		clock:       clock,
		balances:    make(map[string]Balance),
		txs:         make(map[string][]Transaction),
		settlements: make(map[string]string),
		payouts:     make(map[string]Payout),
		payoutRefs:  make(map[string]string),
	}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *MemoryStore) EnsureBalance(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[userID]; !ok {
		s.balances[userID] = Balance{UserID: userID, UpdatedAt: s.clock.Now()}
	}
	return nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (*Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, fmt.Errorf("баланс %q: %w", userID, common.ErrNotFound)
	}
	return &b, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) (Balance, bool, error) {
	lock := s.userLock(m.UserID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.balances[m.UserID]
	_, seen := s.settlements[m.IdempotencyKey]
	s.mu.RUnlock()
	if !ok {
		return Balance{}, false, fmt.Errorf("баланс %q: %w", m.UserID, common.ErrNotFound)
	}
	if m.IdempotencyKey != "" && seen {
		return current, false, nil
	}

	work := current
	txs, err := m.Fn(&work)
	if err != nil {
		return Balance{}, false, err
	}
	if work.Primary < 0 || work.Premium < 0 {
		return Balance{}, false, common.ErrInsufficientBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.IdempotencyKey != "" {
		// ключ мог занять другой пользователь, пока мы считали
		if _, dup := s.settlements[m.IdempotencyKey]; dup {
			return current, false, nil
		}
		s.settlements[m.IdempotencyKey] = m.UserID
	}
	work.UpdatedAt = s.clock.Now()
	s.balances[m.UserID] = work
	s.appendTxsLocked(txs)
	return work, true, nil
}

func (s *MemoryStore) appendTxsLocked(txs []Transaction) {
	for _, t := range txs {
		s.nextTxID++
		t.ID = s.nextTxID
		s.txs[t.UserID] = append(s.txs[t.UserID], t)
	}
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.txs[userID]
	out := make([]Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreatePayout(_ context.Context, p Payout) (*Payout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.payoutRefs[p.ReferenceID]; ok {
		existing := s.payouts[id]
		return &existing, false, nil
	}
	if _, ok := s.balances[p.UserID]; !ok {
		return nil, false, fmt.Errorf("баланс %q: %w", p.UserID, common.ErrNotFound)
	}
	p.UpdatedAt = p.CreatedAt
	s.payouts[p.ID] = p
	s.payoutRefs[p.ReferenceID] = p.ID
	return &p, true, nil
}

func (s *MemoryStore) GetPayout(_ context.Context, id string) (*Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, fmt.Errorf("выплата %q: %w", id, common.ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) GetPayoutByReference(_ context.Context, referenceID string) (*Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.payoutRefs[referenceID]
	if !ok {
		return nil, fmt.Errorf("выплата %q: %w", referenceID, common.ErrNotFound)
	}
	p := s.payouts[id]
	return &p, nil
}

func (s *MemoryStore) ListPayoutsByStatus(_ context.Context, status PayoutStatus, limit int) ([]Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Payout{}
	for _, p := range s.payouts {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdatePayout(ctx context.Context, id string,
	fn func(p *Payout, b *Balance) ([]Transaction, error)) (*Payout, error) {
	p, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.userLock(p.UserID)
	lock.Lock()
	defer lock.Unlock()

	// перечитываем под блокировкой владельца
	s.mu.RLock()
	payout := s.payouts[id]
	bal, ok := s.balances[payout.UserID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("баланс %q: %w", payout.UserID, common.ErrNotFound)
	}

	txs, err := fn(&payout, &bal)
	if err != nil {
		return nil, err
	}
	if bal.Primary < 0 || bal.Premium < 0 {
		return nil, common.ErrInsufficientBalance
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	payout.UpdatedAt = now
	s.payouts[id] = payout
	if len(txs) > 0 {
		bal.UpdatedAt = now
		s.balances[bal.UserID] = bal
		s.appendTxsLocked(txs)
	}
	return &payout, nil
}

func (s *MemoryStore) FindInvariantViolations(_ context.Context) ([]Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	violations := []Violation{}
	for userID, b := range s.balances {
		sums := map[Currency]int64{}
		for _, t := range s.txs[userID] {
			sums[t.Currency] += t.Amount
		}
		for _, c := range []Currency{CurrencyPrimary, CurrencyPremium} {
			if b.Of(c) != sums[c] {
				violations = append(violations, Violation{UserID: userID, Currency: c, Balance: b.Of(c), LedgerSum: sums[c]})
			}
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].UserID != violations[j].UserID {
			return violations[i].UserID < violations[j].UserID
		}
		return violations[i].Currency < violations[j].Currency
	})
	return violations, nil
}
