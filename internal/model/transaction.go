package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit    = "DEPOSIT"
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypeTransfer   = "TRANSFER"
)

// 引擎只产生 COMPLETED，失败的操作在持久化之前就已回滚
const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// Transaction 交易流水表
//
// 流水只追加，不修改，不删除。
// DEPOSIT 只有目标账户，WITHDRAWAL 只有来源账户，TRANSFER 两边都有且不相同。
type Transaction struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo            string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	SourceAccountID          *int64          `gorm:"index" json:"source_account_id,omitempty"`
	SourceAccountNumber      string          `gorm:"type:varchar(16)" json:"source_account_number,omitempty"`
	DestinationAccountID     *int64          `gorm:"index" json:"destination_account_id,omitempty"`
	DestinationAccountNumber string          `gorm:"type:varchar(16)" json:"destination_account_number,omitempty"`
	Amount                   decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"amount"`
	Type                     string          `gorm:"type:varchar(20);not null" json:"type"`
	Status                   string          `gorm:"type:varchar(20);not null" json:"status"`
	Reference                string          `gorm:"type:varchar(128)" json:"reference,omitempty"`
	Description              string          `gorm:"type:varchar(256)" json:"description,omitempty"`
	Timestamp                time.Time       `gorm:"index;not null" json:"timestamp"`
}

func (Transaction) TableName() string {
	return "transaction"
}

// Involves 判断账户是否出现在流水的任意一侧
func (t *Transaction) Involves(accountID int64) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == accountID) ||
		(t.DestinationAccountID != nil && *t.DestinationAccountID == accountID)
}
