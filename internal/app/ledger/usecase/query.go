package usecase

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// GetAccount 取得帳戶
func (uc *LedgerUseCase) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return uc.store.GetAccount(ctx, accountID)
}

// GetBalance 取得帳戶餘額，有快取時先查快取 (read-through)
func (uc *LedgerUseCase) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if uc.cache != nil {
		balance, ok, err := uc.cache.Get(ctx, accountID)
		if err != nil {
			uc.logger.Warn("balance cache read failed", zap.String("account_id", accountID.String()), zap.Error(err))
		} else if ok {
			return balance, nil
		}
	}

	account, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, accountID, account.Balance); err != nil {
			uc.logger.Warn("balance cache write failed", zap.String("account_id", accountID.String()), zap.Error(err))
		}
	}
	return account.Balance, nil
}

// GetTransaction 依 ID 取得交易
func (uc *LedgerUseCase) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return uc.store.GetTransaction(ctx, transactionID)
}

// GetHistory 取得帳戶相關的所有交易 (from 或 to)，新的在前
// 每次呼叫都是新的快照
func (uc *LedgerUseCase) GetHistory(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	if _, err := uc.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	history, err := uc.store.ListTransactionsForAccount(ctx, accountID)
	if err != nil {
		uc.logFailure("history", err, zap.String("account_id", accountID.String()))
		return nil, err
	}
	if history == nil {
		history = []*domain.Transaction{}
	}
	return history, nil
}

// ReconcileReport 儲存的餘額與由歷史推導的餘額比對結果
type ReconcileReport struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Stored     decimal.Decimal `json:"stored"`
	Derived    decimal.Decimal `json:"derived"`
	Consistent bool            `json:"consistent"`
}

// MarshalJSON 金額以固定兩位小數的字串輸出
func (r ReconcileReport) MarshalJSON() ([]byte, error) {
	type report ReconcileReport
	return json.Marshal(struct {
		report
		Stored  string `json:"stored"`
		Derived string `json:"derived"`
	}{report(r), domain.FormatAmount(r.Stored), domain.FormatAmount(r.Derived)})
}

// Reconcile 以交易歷史重新計算餘額並與儲存值比對
func (uc *LedgerUseCase) Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileReport, error) {
	account, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	history, err := uc.store.ListTransactionsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	derived := decimal.Zero
	for _, tran := range history {
		derived = derived.Add(tran.Effect(accountID))
	}

	report := &ReconcileReport{
		AccountID:  accountID,
		Stored:     account.Balance,
		Derived:    derived,
		Consistent: account.Balance.Equal(derived),
	}
	if !report.Consistent {
		uc.logger.Error("balance mismatch",
			zap.String("account_id", accountID.String()),
			zap.String("stored", report.Stored.String()),
			zap.String("derived", report.Derived.String()),
		)
	}
	return report, nil
}
