package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// Config Kafka 事件發佈配置
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter kafka.Writer 中用到的部分 (測試可替換)
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher 將帳本事件寫入 Kafka topic
// Key 為事件涉及的第一個帳戶 (排序後)，同帳戶的事件落在同一 partition
type EventPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewEventPublisher 建立同步寫入的 kafka.Writer
// 帳本在 commit 之後才發佈，寫入失敗需要回報給呼叫端記錄
func NewEventPublisher(cfg Config, logger *zap.Logger) *EventPublisher {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
	return newEventPublisher(writer)
}

func newEventPublisher(w messageWriter) *EventPublisher {
	return &EventPublisher{writer: w, now: time.Now}
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Value: payload,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if event.Transaction != nil {
		if ids := event.Transaction.AccountIDs(); len(ids) > 0 {
			msg.Key = []byte(ids[0].String())
		}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close flush 並關閉 writer
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

var _ usecase.EventPublisher = (*EventPublisher)(nil)
