// Package ledger 账务引擎：存款、取款、转账以及流水查询。
//
// 每个变更操作都在一个工作单元内完成：锁定账户 -> 校验 -> 改余额 -> 写流水 -> 提交。
// 任何校验或存储失败都会回滚整个工作单元，不会留下部分修改。
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger/internal/model"
	"ledger/pkg/idgen"
)

// AmountScale 金额最多 4 位小数
const AmountScale = 4

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// maxPage 保证 (Page-1)*Size 不会溢出
	maxPage = math.MaxInt / maxPageSize
)

// Memo 调用方附带的可选信息
type Memo struct {
	Reference   string
	Description string
}

type PageRequest struct {
	Page int // 从 1 开始
	Size int
}

type Page struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"page_size"`
}

// Normalize 页码从 1 开始（page=1 为第一页），默认每页 10 条，最多 100 条
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

type Engine struct {
	store       Store
	locker      Locker
	logger      *zap.Logger
	outboxTopic string
	now         func() time.Time
	nextNo      func() string
}

type Option func(*Engine)

// WithLocker 在工作单元外再加一层分布式账户锁
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithOutboxTopic 提交时在同一工作单元写入 TransactionCompleted 事件
func WithOutboxTopic(topic string) Option {
	return func(e *Engine) { e.outboxTopic = topic }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTransactionNoGenerator(gen func() string) Option {
	return func(e *Engine) { e.nextNo = gen }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		nextNo: idgen.GenerateTransactionNo,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deposit 存款：account.balance += amount
func (e *Engine) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal, memo Memo) (*model.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	account, err := e.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}

	return e.apply(ctx, []int64{account.ID}, func(tx Tx, locked map[int64]*model.Account) (*model.Transaction, error) {
		dst := locked[account.ID]
		dst.Balance = dst.Balance.Add(amount)
		if err := tx.UpdateBalance(ctx, dst); err != nil {
			return nil, err
		}

		t := e.newTransaction(model.TransactionTypeDeposit, amount, memo)
		t.DestinationAccountID = &dst.ID
		t.DestinationAccountNumber = dst.AccountNumber
		return t, nil
	})
}

// Withdraw 取款：余额检查与扣款在同一个工作单元内，基于已加锁的最新余额
func (e *Engine) Withdraw(ctx context.Context, accountNumber string, amount decimal.Decimal, memo Memo) (*model.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	account, err := e.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}

	return e.apply(ctx, []int64{account.ID}, func(tx Tx, locked map[int64]*model.Account) (*model.Transaction, error) {
		src := locked[account.ID]
		if src.Balance.LessThan(amount) {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, src.AccountNumber)
		}
		src.Balance = src.Balance.Sub(amount)
		if err := tx.UpdateBalance(ctx, src); err != nil {
			return nil, err
		}

		t := e.newTransaction(model.TransactionTypeWithdrawal, amount, memo)
		t.SourceAccountID = &src.ID
		t.SourceAccountNumber = src.AccountNumber
		return t, nil
	})
}

// Transfer 转账：两边余额与一条 TRANSFER 流水要么全部提交，要么全部回滚
func (e *Engine) Transfer(ctx context.Context, sourceNumber, destinationNumber string, amount decimal.Decimal, memo Memo) (*model.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if sourceNumber == destinationNumber {
		return nil, ErrSameAccount
	}

	source, err := e.store.FindAccountByNumber(ctx, sourceNumber)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	destination, err := e.store.FindAccountByNumber(ctx, destinationNumber)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if source.ID == destination.ID {
		return nil, ErrSameAccount
	}

	return e.apply(ctx, []int64{source.ID, destination.ID}, func(tx Tx, locked map[int64]*model.Account) (*model.Transaction, error) {
		src, dst := locked[source.ID], locked[destination.ID]
		if src.Balance.LessThan(amount) {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, src.AccountNumber)
		}

		src.Balance = src.Balance.Sub(amount)
		dst.Balance = dst.Balance.Add(amount)
		// 写入顺序与加锁顺序一致
		for _, a := range orderByID(src, dst) {
			if err := tx.UpdateBalance(ctx, a); err != nil {
				return nil, err
			}
		}

		t := e.newTransaction(model.TransactionTypeTransfer, amount, memo)
		t.SourceAccountID = &src.ID
		t.SourceAccountNumber = src.AccountNumber
		t.DestinationAccountID = &dst.ID
		t.DestinationAccountNumber = dst.AccountNumber
		return t, nil
	})
}

// GetTransaction 按 id 查询流水，不做归属过滤
func (e *Engine) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return e.store.FindTransactionByID(ctx, id)
}

// ListTransactions 账户的全部流水（来源或目标），按时间倒序分页
func (e *Engine) ListTransactions(ctx context.Context, accountID int64, req PageRequest) (*Page, error) {
	req = req.Normalize()
	items, total, err := e.store.ListTransactionsByAccount(ctx, accountID, req.Page, req.Size)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []*model.Transaction{}
	}
	return &Page{Items: items, Total: total, Page: req.Page, Size: req.Size}, nil
}

type mutation func(tx Tx, locked map[int64]*model.Account) (*model.Transaction, error)

// apply 工作单元唯一的出口：fn 成功则写流水、写事件并提交，其余任何路径（含 panic）都回滚
func (e *Engine) apply(ctx context.Context, accountIDs []int64, fn mutation) (*model.Transaction, error) {
	ids := sortedIDs(accountIDs)

	if e.locker != nil {
		unlock, lockErr := e.locker.Lock(ctx, ids)
		if lockErr != nil {
			return nil, lockErr
		}
		defer unlock()
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	locked, err := tx.LockAccounts(ctx, ids...)
	if err != nil {
		return nil, err
	}

	t, err := fn(tx, locked)
	if err != nil {
		return nil, err
	}

	if err := tx.CreateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	if err := e.recordEvent(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	e.logger.Info("transaction committed",
		zap.Int64("id", t.ID),
		zap.String("transaction_no", t.TransactionNo),
		zap.String("type", t.Type),
		zap.String("amount", t.Amount.String()),
		zap.String("source", t.SourceAccountNumber),
		zap.String("destination", t.DestinationAccountNumber),
	)
	return t, nil
}

func (e *Engine) recordEvent(ctx context.Context, tx Tx, t *model.Transaction) error {
	if e.outboxTopic == "" {
		return nil
	}

	payload, err := json.Marshal(model.TransactionCompleted{
		TransactionID:            t.ID,
		TransactionNo:            t.TransactionNo,
		Type:                     t.Type,
		SourceAccountNumber:      t.SourceAccountNumber,
		DestinationAccountNumber: t.DestinationAccountNumber,
		Amount:                   t.Amount,
		Reference:                t.Reference,
		OccurredAt:               t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: t.TransactionNo,
		Topic:      e.outboxTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := tx.CreateOutboxMessage(ctx, msg); err != nil {
		return fmt.Errorf("create outbox message: %w", err)
	}
	return nil
}

func (e *Engine) newTransaction(txType string, amount decimal.Decimal, memo Memo) *model.Transaction {
	return &model.Transaction{
		TransactionNo: e.nextNo(),
		Amount:        amount,
		Type:          txType,
		Status:        model.TransactionStatusCompleted,
		Reference:     memo.Reference,
		Description:   memo.Description,
		Timestamp:     e.now(),
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// sortedIDs 去重并升序，保证所有操作的加锁顺序一致，避免反向转账互相死锁
func sortedIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func orderByID(a, b *model.Account) []*model.Account {
	if a.ID < b.ID {
		return []*model.Account{a, b}
	}
	return []*model.Account{b, a}
}
