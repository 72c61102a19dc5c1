package ledger

import (
	"context"

	"ledger/internal/model"
)

// Store 账户存储与流水存储，共用同一个事务边界
type Store interface {
	// Begin 开启一个工作单元，返回的 Tx 必须以一次 Commit 或 Rollback 结束
	Begin(ctx context.Context) (Tx, error)

	FindAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	FindTransactionByID(ctx context.Context, id int64) (*model.Transaction, error)
	// ListTransactionsByAccount 账户作为来源或目标的流水，按时间倒序，同时返回总数
	ListTransactionsByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error)
}

// Tx 一个工作单元
type Tx interface {
	// LockAccounts 按 id 升序锁定账户直到工作单元结束，返回最新状态
	// 任一账户不存在返回 ErrAccountNotFound
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error)
	// UpdateBalance 仅当 account.Version 与存储一致时写入余额，随后 Version+1
	// 版本不一致返回 ErrStorageConflict
	UpdateBalance(ctx context.Context, account *model.Account) error
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error

	Commit() error
	Rollback() error
}

// Locker 跨进程的账户锁，按传入顺序加锁，unlock 释放全部
type Locker interface {
	Lock(ctx context.Context, accountIDs []int64) (unlock func(), err error)
}
