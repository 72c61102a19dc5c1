package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(128);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// TransactionCompleted 写入 outbox 的事件体
type TransactionCompleted struct {
	TransactionID            int64           `json:"transaction_id"`
	TransactionNo            string          `json:"transaction_no"`
	Type                     string          `json:"type"`
	SourceAccountNumber      string          `json:"source_account_number,omitempty"`
	DestinationAccountNumber string          `json:"destination_account_number,omitempty"`
	Amount                   decimal.Decimal `json:"amount"`
	Reference                string          `json:"reference,omitempty"`
	OccurredAt               time.Time       `json:"occurred_at"`
}
