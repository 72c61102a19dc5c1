package repository

import (
	"context"

	"gorm.io/gorm"

	"ledger/internal/ledger"
	"ledger/internal/model"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	return conn(r.db, tx).WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.update(ctx, id, map[string]interface{}{"status": status})
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{"retry_count": gorm.Expr("retry_count + 1")})
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      model.OutboxStatusFailed,
		"retry_count": gorm.Expr("retry_count + 1"),
	})
}

func (r *OutboxRepository) update(ctx context.Context, id int64, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
