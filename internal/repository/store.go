package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ledger/internal/ledger"
	"ledger/internal/model"
)

// Store 基于 gorm 的账户/流水/outbox 存储，一个工作单元对应一个数据库事务
type Store struct {
	db           *gorm.DB
	accounts     *AccountRepository
	transactions *TransactionRepository
	outbox       *OutboxRepository
	rowLocks     bool
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		accounts:     NewAccountRepository(db),
		transactions: NewTransactionRepository(db),
		outbox:       NewOutboxRepository(db),
		// 只有 MySQL 走 SELECT ... FOR UPDATE
		rowLocks: db.Dialector.Name() == "mysql",
	}
}

func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	return s.accounts.Create(ctx, account)
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *Store) FindAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	return s.accounts.GetByNumber(ctx, number)
}

func (s *Store) ExistsAccountNumber(ctx context.Context, number string) (bool, error) {
	return s.accounts.ExistsByNumber(ctx, number)
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID int64) ([]*model.Account, error) {
	return s.accounts.ListByUserID(ctx, userID)
}

func (s *Store) FindTransactionByID(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactions.ListByAccountID(ctx, accountID, page, pageSize)
}

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &unitOfWork{store: s, tx: tx}, nil
}

var errUnitFinished = errors.New("unit of work already finished")

type unitOfWork struct {
	store *Store
	tx    *gorm.DB
	done  bool
}

func (u *unitOfWork) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error) {
	if u.done {
		return nil, errUnitFinished
	}

	accounts, err := u.store.accounts.GetByIDsForUpdate(ctx, u.tx, ids, u.store.rowLocks)
	if err != nil {
		return nil, err
	}

	locked := make(map[int64]*model.Account, len(accounts))
	for _, a := range accounts {
		locked[a.ID] = a
	}
	return locked, nil
}

func (u *unitOfWork) UpdateBalance(ctx context.Context, account *model.Account) error {
	if u.done {
		return errUnitFinished
	}
	return u.store.accounts.UpdateBalance(ctx, u.tx, account)
}

func (u *unitOfWork) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if u.done {
		return errUnitFinished
	}
	return u.store.transactions.Create(ctx, u.tx, t)
}

func (u *unitOfWork) CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error {
	if u.done {
		return errUnitFinished
	}
	return u.store.outbox.Create(ctx, u.tx, msg)
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return errUnitFinished
	}
	u.done = true
	return u.tx.Commit().Error
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}

var _ ledger.Store = (*Store)(nil)
