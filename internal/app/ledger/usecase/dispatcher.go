package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

const (
	// DefaultPublishTimeout 單一事件發佈的最長時間
	DefaultPublishTimeout = 5 * time.Second
	// DefaultEventQueueSize 等待發佈的事件上限，滿了之後新事件會被丟棄並記 log
	DefaultEventQueueSize = 1024
)

// eventDispatcher 在背景依 commit 順序發佈事件
// 操作在 commit 後立即回傳，不會被 broker 的延遲拖住
type eventDispatcher struct {
	publisher EventPublisher
	logger    *zap.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *domain.Event
	done   chan struct{}
}

func newEventDispatcher(publisher EventPublisher, logger *zap.Logger, timeout time.Duration, size int) *eventDispatcher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	d := &eventDispatcher{
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		queue:     make(chan *domain.Event, size),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue 不阻塞；佇列已滿或已關閉時丟棄事件
func (d *eventDispatcher) enqueue(event *domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped, dispatcher closed", eventFields(event)...)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event dropped, queue full", eventFields(event)...)
	}
}

func (d *eventDispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.publisher.Publish(ctx, event)
		cancel()
		if err != nil {
			d.logger.Warn("event publish failed", append(eventFields(event), zap.Error(err))...)
		}
	}
}

// close 停止接收新事件，等待佇列清空或 ctx 結束
func (d *eventDispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventFields(event *domain.Event) []zap.Field {
	fields := []zap.Field{zap.String("event_type", string(event.Type))}
	if event.Transaction != nil {
		fields = append(fields, zap.String("transaction_id", event.Transaction.ID.String()))
	}
	return fields
}
