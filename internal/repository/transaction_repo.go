package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"ledger/internal/ledger"
	"ledger/internal/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAccountID 账户作为来源或目标的流水，时间倒序
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	transactions := make([]*model.Transaction, 0)
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("source_account_id = ? OR destination_account_id = ?", accountID, accountID).
		Session(&gorm.Session{})

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// gorm 会忽略负数 offset，溢出的页码直接按越界返回
	offset := (page - 1) * pageSize
	if offset < 0 {
		return transactions, total, nil
	}

	err = query.
		Order("timestamp DESC").
		Order("id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
