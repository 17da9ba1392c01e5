package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig 事件总线配置
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher 记录生命周期事件发布器
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *log.Helper
}

// NewKafkaPublisher 创建事件发布器
func NewKafkaPublisher(cfg KafkaConfig, logger log.Logger) domain.EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		WriteTimeout: 5 * time.Second,
	}
	return &KafkaPublisher{writer: writer, log: log.NewHelper(logger)}
}

// Publish 序列化并投递事件
func (p *KafkaPublisher) Publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}

// Close 关闭写端
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 事件总线未启用时的空实现
type NopPublisher struct{}

// Publish 丢弃事件
func (NopPublisher) Publish(context.Context, any) error { return nil }
