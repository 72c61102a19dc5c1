package mq

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"ledger/internal/config"
)

// Producer 同步 Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewProducerConfig 等待所有副本确认，失败重试 3 次
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

// InitKafka 连接 brokers 并创建生产者
func InitKafka(cfg *config.KafkaConfig, log *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers))
	return NewProducer(producer, log), nil
}

func NewProducer(producer sarama.SyncProducer, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{producer: producer, logger: log}
}

// Publish 发送一条消息，key 决定分区
func (p *Producer) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	p.logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
