package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// LedgerUseCase 是核心業務邏輯層
// 存款/提款/轉帳/退款都在 Store.WithinTx 的單一範圍內完成
type LedgerUseCase struct {
	store     Store
	cache     BalanceCache
	publisher EventPublisher
	logger    *zap.Logger

	publishTimeout time.Duration
	eventQueueSize int
	events         *eventDispatcher
}

// invalidateTimeout commit 後清除快取的最長時間
const invalidateTimeout = time.Second

func NewLedgerUseCase(store Store, opts ...Option) *LedgerUseCase {
	uc := &LedgerUseCase{
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(uc)
	}
	if uc.publisher != nil {
		uc.events = newEventDispatcher(uc.publisher, uc.logger, uc.publishTimeout, uc.eventQueueSize)
	}
	return uc
}

// Close 停止事件發佈並等待已排入的事件送出，ctx 結束時放棄等待
// 不會關閉 Store
func (uc *LedgerUseCase) Close(ctx context.Context) error {
	if uc.events == nil {
		return nil
	}
	return uc.events.close(ctx)
}

// CreateAccount 建立餘額為 0 的帳戶
func (uc *LedgerUseCase) CreateAccount(ctx context.Context, name string) (*domain.Account, error) {
	account, err := domain.NewAccount(name)
	if err != nil {
		uc.logFailure("create account", err)
		return nil, err
	}
	if err := uc.store.CreateAccount(ctx, account); err != nil {
		uc.logFailure("create account", err)
		return nil, err
	}
	uc.logger.Info("account created", zap.String("account_id", account.ID.String()), zap.String("name", account.Name))
	return account, nil
}

// Deposit 存款
//
// 參數:
//
//	ctx: 上下文，取消時整筆操作 rollback
//	accountID: 存入的帳戶
//	amount: 金額，必須 > 0
//
// 回傳:
//
//	*domain.Transaction: type=deposit, from=accountID
//	error: ErrInvalidAmount / ErrAccountNotFound / DatabaseError
func (uc *LedgerUseCase) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	tran := &domain.Transaction{
		Type:          domain.TransactionTypeDeposit,
		FromAccountID: &accountID,
	}
	if err := uc.post(ctx, tran, amount, operationOptions{}); err != nil {
		uc.logFailure("deposit", err, zap.String("account_id", accountID.String()), zap.String("amount", amount.String()))
		return nil, err
	}
	uc.logger.Info("deposit completed",
		zap.String("transaction_id", tran.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("amount", tran.Amount.StringFixed(domain.AmountScale)),
	)
	return tran, nil
}

// Withdraw 提款，預設不允許餘額變為負數 (見 AllowNegative)
func (uc *LedgerUseCase) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, opts ...OperationOption) (*domain.Transaction, error) {
	tran := &domain.Transaction{
		Type:          domain.TransactionTypeWithdrawal,
		FromAccountID: &accountID,
	}
	if err := uc.post(ctx, tran, amount, newOperationOptions(opts)); err != nil {
		uc.logFailure("withdrawal", err, zap.String("account_id", accountID.String()), zap.String("amount", amount.String()))
		return nil, err
	}
	uc.logger.Info("withdrawal completed",
		zap.String("transaction_id", tran.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("amount", tran.Amount.StringFixed(domain.AmountScale)),
	)
	return tran, nil
}

// Transfer 轉帳，來源帳戶扣款與目的帳戶入帳在同一範圍內完成
func (uc *LedgerUseCase) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, opts ...OperationOption) (*domain.Transaction, error) {
	tran := &domain.Transaction{
		Type:          domain.TransactionTypeTransfer,
		FromAccountID: &fromID,
		ToAccountID:   &toID,
	}
	if err := uc.post(ctx, tran, amount, newOperationOptions(opts)); err != nil {
		uc.logFailure("transfer", err,
			zap.String("from_account_id", fromID.String()),
			zap.String("to_account_id", toID.String()),
			zap.String("amount", amount.String()),
		)
		return nil, err
	}
	uc.logger.Info("transfer completed",
		zap.String("transaction_id", tran.ID.String()),
		zap.String("from_account_id", fromID.String()),
		zap.String("to_account_id", toID.String()),
		zap.String("amount", tran.Amount.StringFixed(domain.AmountScale)),
	)
	return tran, nil
}

// post 執行正向交易：鎖帳戶 -> 檢查 -> 相對調整餘額 -> 寫入紀錄
func (uc *LedgerUseCase) post(ctx context.Context, tran *domain.Transaction, amount decimal.Decimal, opts operationOptions) error {
	normalized, err := domain.NormalizeAmount(amount)
	if err != nil {
		return err
	}
	tran.Amount = normalized

	adjustments, err := tran.Adjustments()
	if err != nil {
		return err
	}

	err = uc.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, tran.AccountIDs()...)
		if err != nil {
			return err
		}
		// 兩邊都不存在時回報 from
		if err := requireAccounts(accounts, tran.FromAccountID, tran.ToAccountID); err != nil {
			return err
		}
		if tran.Type != domain.TransactionTypeDeposit && !opts.allowNegative {
			from := accounts[*tran.FromAccountID]
			if !from.CanWithdraw(tran.Amount) {
				return domain.InsufficientBalanceError(from.ID, tran.Amount)
			}
		}
		if err := applyAdjustments(ctx, tx, adjustments); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, tran)
	})
	if err != nil {
		return err
	}

	uc.afterCommit(ctx, domain.EventTransactionCreated, tran, nil)
	return nil
}

// afterCommit 清除快取並排入事件，失敗只記 log (交易已 commit)
func (uc *LedgerUseCase) afterCommit(ctx context.Context, eventType domain.EventType, tran, original *domain.Transaction) {
	if uc.cache != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
		if err := uc.cache.Invalidate(ctx, tran.AccountIDs()...); err != nil {
			uc.logger.Warn("balance cache invalidation failed", zap.String("transaction_id", tran.ID.String()), zap.Error(err))
		}
		cancel()
	}
	if uc.events != nil {
		uc.events.enqueue(&domain.Event{
			Type:        eventType,
			Transaction: tran,
			Original:    original,
			Timestamp:   time.Now().UTC(),
		})
	}
}

// logFailure 驗證類錯誤記 warn，基礎設施錯誤記 error
func (uc *LedgerUseCase) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if isValidationError(err) {
		uc.logger.Warn("operation rejected", fields...)
		return
	}
	uc.logger.Error("operation failed", fields...)
}

func isValidationError(err error) bool {
	for _, kind := range []error{
		domain.ErrInvalidAccountName,
		domain.ErrAccountNotFound,
		domain.ErrInvalidAmount,
		domain.ErrInsufficientBalance,
		domain.ErrTransactionNotFound,
		domain.ErrInvalidRefundTarget,
		domain.ErrUnsupportedTransactionType,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// requireAccounts 依參數順序檢查帳戶存在，回報第一個缺少的
func requireAccounts(accounts map[uuid.UUID]*domain.Account, ids ...*uuid.UUID) error {
	for _, id := range ids {
		if id == nil {
			continue
		}
		if _, ok := accounts[*id]; !ok {
			return domain.AccountError(domain.ErrAccountNotFound, *id)
		}
	}
	return nil
}

func applyAdjustments(ctx context.Context, tx Tx, adjustments []domain.BalanceAdjustment) error {
	for _, adj := range adjustments {
		if err := tx.AdjustBalance(ctx, adj.AccountID, adj.Delta); err != nil {
			return err
		}
	}
	return nil
}
