// Package memory 进程内存储，实现与 MySQL 存储相同的契约。
//
// 每个账户一把锁（容量为 1 的 channel，可被 ctx 取消），工作单元内的写入先暂存，
// Commit 时一次性应用；Rollback 直接丢弃。用于单机运行和测试。
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ledger/internal/ledger"
	"ledger/internal/model"
)

var errTxDone = errors.New("memory: transaction already committed or rolled back")

type Store struct {
	mu           sync.RWMutex
	accounts     map[int64]*model.Account
	byNumber     map[string]int64
	transactions []*model.Transaction
	outbox       []*model.OutboxMessage

	nextAccountID int64
	nextTxID      int64
	nextOutboxID  int64

	locksMu sync.Mutex
	locks   map[int64]chan struct{}

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*model.Account),
		byNumber: make(map[string]int64),
		locks:    make(map[int64]chan struct{}),
		now:      time.Now,
	}
}

func (s *Store) accountLock(id int64) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// ---------------------------------------------------------------------------
// 账户
// ---------------------------------------------------------------------------

// CreateAccount 新建账户，账号重复返回 ledger.ErrDuplicateAccountNumber
func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNumber[account.AccountNumber]; exists {
		return ledger.ErrDuplicateAccountNumber
	}

	s.nextAccountID++
	now := s.now()
	account.ID = s.nextAccountID
	account.Version = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	cp := *account
	s.accounts[cp.ID] = &cp
	s.byNumber[cp.AccountNumber] = cp.ID
	return nil
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) FindAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

func (s *Store) ExistsAccountNumber(ctx context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byNumber[number]
	return ok, nil
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Account, 0)
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------------------------------------------------------------------------
// 流水
// ---------------------------------------------------------------------------

func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ledger.ErrTransactionNotFound
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	s.mu.RLock()
	matched := make([]*model.Transaction, 0)
	for _, t := range s.transactions {
		if t.Involves(accountID) {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start < 0 || start >= len(matched) {
		return []*model.Transaction{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// ---------------------------------------------------------------------------
// outbox
// ---------------------------------------------------------------------------

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.OutboxMessage, 0)
	for _, m := range s.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.Status = status })
}

func (s *Store) IncrementRetryCount(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (s *Store) MarkAsFailed(ctx context.Context, id int64) error {
	return s.updateOutbox(id, func(m *model.OutboxMessage) {
		m.Status = model.OutboxStatusFailed
		m.RetryCount++
	})
}

func (s *Store) updateOutbox(id int64, fn func(m *model.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return ledger.ErrNotFound
}

// ---------------------------------------------------------------------------
// 工作单元
// ---------------------------------------------------------------------------

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	return &tx{s: s, staged: make(map[int64]*model.Account)}, nil
}

type tx struct {
	s            *Store
	held         []chan struct{}
	staged       map[int64]*model.Account
	transactions []*model.Transaction
	outbox       []*model.OutboxMessage
	done         bool
}

func (t *tx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error) {
	if t.done {
		return nil, errTxDone
	}

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, id := range sorted {
		ch := t.s.accountLock(id)
		select {
		case ch <- struct{}{}:
			t.held = append(t.held, ch)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make(map[int64]*model.Account, len(sorted))
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, id := range sorted {
		a, ok := t.s.accounts[id]
		if !ok {
			return nil, ledger.ErrAccountNotFound
		}
		cp := *a
		out[id] = &cp
	}
	return out, nil
}

func (t *tx) UpdateBalance(ctx context.Context, account *model.Account) error {
	if t.done {
		return errTxDone
	}

	current, ok := t.staged[account.ID]
	if !ok {
		t.s.mu.RLock()
		stored, exists := t.s.accounts[account.ID]
		if exists {
			cp := *stored
			current = &cp
		}
		t.s.mu.RUnlock()
		if !exists {
			return ledger.ErrAccountNotFound
		}
	}
	if current.Version != account.Version {
		return ledger.ErrStorageConflict
	}

	account.Version++
	account.UpdatedAt = t.s.now()
	current.Balance = account.Balance
	current.Version = account.Version
	current.UpdatedAt = account.UpdatedAt
	t.staged[account.ID] = current
	return nil
}

func (t *tx) CreateTransaction(ctx context.Context, trans *model.Transaction) error {
	if t.done {
		return errTxDone
	}

	t.s.mu.Lock()
	t.s.nextTxID++
	trans.ID = t.s.nextTxID
	t.s.mu.Unlock()

	cp := *trans
	t.transactions = append(t.transactions, &cp)
	return nil
}

func (t *tx) CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error {
	if t.done {
		return errTxDone
	}

	t.s.mu.Lock()
	t.s.nextOutboxID++
	msg.ID = t.s.nextOutboxID
	t.s.mu.Unlock()

	now := t.s.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := *msg
	t.outbox = append(t.outbox, &cp)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errTxDone
	}

	t.s.mu.Lock()
	for id, a := range t.staged {
		t.s.accounts[id] = a
	}
	t.s.transactions = append(t.s.transactions, t.transactions...)
	t.s.outbox = append(t.s.outbox, t.outbox...)
	t.s.mu.Unlock()

	t.finish()
	return nil
}

// Rollback 可重复调用
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.staged = nil
	t.transactions = nil
	t.outbox = nil
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
}

var _ ledger.Store = (*Store)(nil)
