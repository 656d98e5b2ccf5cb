package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// Store 是帳本的儲存層介面 (Account Store + Transaction Ledger)
// 由程式入口建立並注入，生命週期 (Open/Close) 不屬於業務邏輯
type Store interface {
	// WithinTx 在單一交易範圍內執行 fn
	// fn 回傳錯誤 (或 panic、ctx 取消) 時全部 rollback，範圍保證只釋放一次
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// CreateAccount 寫入新帳戶
	CreateAccount(ctx context.Context, account *domain.Account) error
	// GetAccount 取得帳戶，不存在回傳 domain.ErrAccountNotFound
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// GetTransaction 取得交易，不存在回傳 domain.ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// ListTransactionsForAccount 依 created_at DESC, sequence DESC 排序的快照
	ListTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error)
	Close() error
}

// Tx 交易範圍內的操作，只能由取得它的那個呼叫使用
type Tx interface {
	// LockAccounts 在範圍內重新讀取帳戶 (支援的儲存層會依 ids 順序加 row lock)
	// 不存在的帳戶不會出現在回傳的 map 中，由呼叫端決定回報哪一個
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error)
	// AdjustBalance 相對調整餘額，由儲存層計算 balance = balance + delta
	AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	// InsertTransaction 寫入紀錄並回填 ID / Sequence / 時間戳
	InsertTransaction(ctx context.Context, tran *domain.Transaction) error
	// GetTransaction 在範圍內讀取並鎖定交易
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// UpdateTransactionReference 回填原交易的 reference_transaction_id
	UpdateTransactionReference(ctx context.Context, id uuid.UUID, refID uuid.UUID) error
}

// BalanceCache 餘額快取 (可選)
type BalanceCache interface {
	Get(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, bool, error)
	Set(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error
	Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error
}

// EventPublisher 交易 commit 後的事件發佈 (可選)
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}
