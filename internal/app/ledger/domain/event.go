package domain

import "time"

// EventType 帳本事件類型
type EventType string

const (
	EventTransactionCreated  EventType = "transaction.created"
	EventTransactionRefunded EventType = "transaction.refunded"
)

// Event 交易 commit 後發佈的事件
type Event struct {
	Type        EventType    `json:"event_type"`
	Transaction *Transaction `json:"transaction"`
	// Original: 退款事件中被退款的原交易
	Original  *Transaction `json:"original,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
