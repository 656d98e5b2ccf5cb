package usecase

import (
	"time"

	"go.uber.org/zap"
)

// Option 定義 LedgerUseCase 的配置選項函數
type Option func(*LedgerUseCase)

// WithLogger 設定 zap logger，未設定時使用 zap.NewNop()
func WithLogger(logger *zap.Logger) Option {
	return func(uc *LedgerUseCase) {
		if logger != nil {
			uc.logger = logger
		}
	}
}

// WithBalanceCache 設定餘額快取
func WithBalanceCache(cache BalanceCache) Option {
	return func(uc *LedgerUseCase) {
		uc.cache = cache
	}
}

// WithEventPublisher 設定 commit 後的事件發佈者
func WithEventPublisher(publisher EventPublisher) Option {
	return func(uc *LedgerUseCase) {
		uc.publisher = publisher
	}
}

// WithPublishTimeout 設定單一事件發佈的時間上限 (預設 DefaultPublishTimeout)
func WithPublishTimeout(timeout time.Duration) Option {
	return func(uc *LedgerUseCase) {
		uc.publishTimeout = timeout
	}
}

// WithEventQueueSize 設定等待發佈的事件上限 (預設 DefaultEventQueueSize)
func WithEventQueueSize(size int) Option {
	return func(uc *LedgerUseCase) {
		uc.eventQueueSize = size
	}
}

// OperationOption 單次提款/轉帳的選項
type OperationOption func(*operationOptions)

type operationOptions struct {
	allowNegative bool
}

// AllowNegative 允許扣款後餘額小於 0
func AllowNegative() OperationOption {
	return func(o *operationOptions) {
		o.allowNegative = true
	}
}

func newOperationOptions(opts []OperationOption) operationOptions {
	var o operationOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
