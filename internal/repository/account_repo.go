package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ledger/internal/ledger"
	"ledger/internal/model"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create 账号唯一索引冲突时返回 ledger.ErrDuplicateAccountNumber，由调用方换号重试
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if isDuplicateKey(err) {
		return ledger.ErrDuplicateAccountNumber
	}
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("account_number = ?", number).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Account{}).Where("account_number = ?", number).Count(&count).Error
	return count > 0, err
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Account, error) {
	accounts := make([]*model.Account, 0)
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// GetByIDsForUpdate 按 id 升序锁定一组账户
//
// forUpdate 为 false 时不加 FOR UPDATE（SQLite 不支持行锁，整库写锁已经串行化）
func (r *AccountRepository) GetByIDsForUpdate(ctx context.Context, tx *gorm.DB, ids []int64, forUpdate bool) ([]*model.Account, error) {
	query := conn(r.db, tx).WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	accounts := make([]*model.Account, 0, len(ids))
	err := query.Where("id IN ?", ids).Order("id ASC").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	if len(accounts) != len(ids) {
		return nil, ledger.ErrAccountNotFound
	}
	return accounts, nil
}

// UpdateBalance 乐观锁写余额：version 不匹配时没有任何行被更新
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance": account.Balance,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrStorageConflict
	}

	account.Version++
	return nil
}
