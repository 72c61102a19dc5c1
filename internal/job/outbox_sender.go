package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ledger/internal/model"
)

// OutboxStore 待发送消息的读取与状态回写
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(topic, key, value string) error
}

// OutboxSender 轮询 outbox 表，把已提交的交易事件投递到 Kafka
type OutboxSender struct {
	store         OutboxStore
	publisher     Publisher
	logger        *zap.Logger
	maxRetryCount int
	interval      time.Duration
	batchSize     int

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewOutboxSender(store OutboxStore, publisher Publisher, maxRetryCount int, logger *zap.Logger) *OutboxSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxSender{
		store:         store,
		publisher:     publisher,
		logger:        logger.Named("outbox"),
		maxRetryCount: maxRetryCount,
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

// Stop 可重复调用
func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPendingMessages 处理一批 PENDING 消息
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("query pending messages failed", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.logger.Error("mark message sent failed", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return
		}
		s.logger.Debug("message sent", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		return
	}

	s.logger.Warn("publish message failed", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	// 最后一次失败直接标记 FAILED（MarkAsFailed 同时累加重试次数）
	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("mark message failed failed", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		s.logger.Error("message exceeded max retries, marked FAILED", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
		return
	}

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("increment retry count failed", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
