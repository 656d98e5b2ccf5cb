package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// DefaultEventsChannel 預設的 Pub/Sub 頻道
const DefaultEventsChannel = "ledger_events"

// EventPublisher 以 Redis Pub/Sub 發佈帳本事件 (JSON)
type EventPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

// NewEventPublisher channel 為空時使用 DefaultEventsChannel
func NewEventPublisher(rdb redis.UniversalClient, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &EventPublisher{rdb: rdb, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

var _ usecase.EventPublisher = (*EventPublisher)(nil)
