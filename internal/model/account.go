package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountTypeSavings  = "SAVINGS"
	AccountTypeChecking = "CHECKING"
)

// Account 账户表
// 余额只能由账务引擎修改，任何已提交的读都不会看到负余额
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountNumber string          `gorm:"type:varchar(16);uniqueIndex;not null" json:"account_number"` // 对外账号，10-16 位数字，分配后不可变
	AccountName   string          `gorm:"type:varchar(100);not null" json:"account_name"`
	AccountType   string          `gorm:"type:varchar(20);not null" json:"account_type"`
	Balance       decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"balance"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
	UserID        int64           `gorm:"index;not null" json:"user_id"` // 所属用户
	Version       int             `gorm:"not null;default:0" json:"-"`   // 乐观锁版本号
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

func ValidAccountType(t string) bool {
	return t == AccountTypeSavings || t == AccountTypeChecking
}
