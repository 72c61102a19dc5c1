package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ledger/internal/infrastructure/database"
	"ledger/internal/ledger"
	"ledger/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// SQLite 同一时间只允许一个写事务
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedAccount(t *testing.T, s *Store, number string, userID int64) *model.Account {
	t.Helper()
	a := &model.Account{
		AccountNumber: number,
		AccountName:   "acct " + number,
		AccountType:   model.AccountTypeChecking,
		Active:        true,
		UserID:        userID,
		Balance:       decimal.Zero,
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func TestStore_AccountQueries(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := seedAccount(t, s, "1000000001", 7)
	seedAccount(t, s, "1000000002", 7)
	seedAccount(t, s, "1000000003", 8)

	got, err := s.FindAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000000001", got.AccountNumber)
	assert.True(t, got.Active)

	got, err = s.FindAccountByNumber(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = s.FindAccountByNumber(ctx, "0000000000")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	_, err = s.FindAccountByID(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	exists, err := s.ExistsAccountNumber(ctx, "1000000003")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.ExistsAccountNumber(ctx, "1000000009")
	require.NoError(t, err)
	assert.False(t, exists)

	owned, err := s.ListAccountsByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Less(t, owned[0].ID, owned[1].ID)
}

func TestStore_EngineRoundTrip(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	src := seedAccount(t, s, "1000000001", 1)
	dst := seedAccount(t, s, "1000000002", 2)

	engine := ledger.NewEngine(s, ledger.WithOutboxTopic("ledger.events"))

	_, err := engine.Deposit(ctx, "1000000001", decimal.NewFromInt(100), ledger.Memo{Reference: "seed"})
	require.NoError(t, err)
	trans, err := engine.Transfer(ctx, "1000000001", "1000000002", decimal.RequireFromString("25.5"), ledger.Memo{Description: "rent"})
	require.NoError(t, err)

	_, err = engine.Withdraw(ctx, "1000000002", decimal.NewFromInt(26), ledger.Memo{})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	got, err := s.FindAccountByID(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("74.5")), got.Balance.String())
	assert.Equal(t, 2, got.Version)

	got, err = s.FindAccountByID(ctx, dst.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("25.5")), got.Balance.String())
	assert.Equal(t, 1, got.Version)

	stored, err := s.FindTransactionByID(ctx, trans.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeTransfer, stored.Type)
	assert.Equal(t, trans.TransactionNo, stored.TransactionNo)
	require.NotNil(t, stored.SourceAccountID)
	assert.Equal(t, src.ID, *stored.SourceAccountID)
	assert.Equal(t, "1000000002", stored.DestinationAccountNumber)
	assert.Equal(t, "rent", stored.Description)

	history, total, err := s.ListTransactionsByAccount(ctx, src.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, history, 2)
	assert.Equal(t, trans.ID, history[0].ID)

	history, total, err = s.ListTransactionsByAccount(ctx, dst.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, history, 1)

	history, total, err = s.ListTransactionsByAccount(ctx, src.ID, 1<<62+1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Empty(t, history)

	_, err = s.FindTransactionByID(ctx, 12345)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	pending, err := s.Outbox().GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, trans.TransactionNo, pending[1].MessageKey)
}

func TestUnitOfWork_RollbackAndVersionConflict(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()
	a := seedAccount(t, s, "1000000001", 1)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx.LockAccounts(ctx, a.ID)
	require.NoError(t, err)
	acct := locked[a.ID]
	acct.Balance = decimal.NewFromInt(40)
	require.NoError(t, tx.UpdateBalance(ctx, acct))
	require.NoError(t, tx.CreateTransaction(ctx, &model.Transaction{
		TransactionNo: "TXN-rollback",
		Amount:        decimal.NewFromInt(40),
		Type:          model.TransactionTypeDeposit,
		Status:        model.TransactionStatusCompleted,
		Timestamp:     time.Now(),
	}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	got, err := s.FindAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, 0, got.Version)
	_, total, err := s.ListTransactionsByAccount(ctx, a.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	stale := *got
	stale.Version = 5
	assert.ErrorIs(t, tx.UpdateBalance(ctx, &stale), ledger.ErrStorageConflict)
	_, err = tx.LockAccounts(ctx, a.ID, 999)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	require.NoError(t, tx.Rollback())
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: key,
			Topic:      "ledger.events",
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}))
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "k1", pending[0].MessageKey)

	require.NoError(t, repo.UpdateStatus(ctx, pending[0].ID, model.OutboxStatusSent))
	require.NoError(t, repo.IncrementRetryCount(ctx, pending[1].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, pending[2].ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k2", pending[0].MessageKey)
	assert.Equal(t, 1, pending[0].RetryCount)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, 999, model.OutboxStatusSent), ledger.ErrNotFound)
}
