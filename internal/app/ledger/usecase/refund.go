package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// Refund 退款：對原交易做反向操作並建立互相連結的退款紀錄
//
// 步驟 (同一範圍內):
//
//	1. 讀取並鎖定原交易，不存在回傳 ErrTransactionNotFound
//	2. 檢查可退款 (非退款紀錄、未被退款過)，否則 ErrInvalidRefundTarget
//	3. 重新讀取涉及的帳戶，不存在回傳 ErrAccountNotFound
//	4. 套用反向餘額調整 (不檢查餘額，可變為負數)
//	5. 寫入退款紀錄 (reference_transaction_id = 原交易)
//	6. 回填原交易的 reference_transaction_id = 退款紀錄
func (uc *LedgerUseCase) Refund(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var refund, original *domain.Transaction

	err := uc.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		target, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := target.ValidateRefundable(); err != nil {
			return err
		}
		inverse, err := target.Inverse()
		if err != nil {
			return err
		}
		adjustments, err := inverse.Adjustments()
		if err != nil {
			return err
		}

		accounts, err := tx.LockAccounts(ctx, inverse.AccountIDs()...)
		if err != nil {
			return err
		}
		if err := requireAccounts(accounts, target.FromAccountID, target.ToAccountID); err != nil {
			return err
		}

		if err := applyAdjustments(ctx, tx, adjustments); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, inverse); err != nil {
			return err
		}
		if err := tx.UpdateTransactionReference(ctx, target.ID, inverse.ID); err != nil {
			return err
		}
		target.ReferenceTransactionID = &inverse.ID
		refund, original = inverse, target
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefundTarget) {
			uc.logger.Warn("attempted to refund a non-refundable transaction", zap.String("transaction_id", transactionID.String()), zap.Error(err))
		} else {
			uc.logFailure("refund", err, zap.String("transaction_id", transactionID.String()))
		}
		return nil, err
	}

	uc.afterCommit(ctx, domain.EventTransactionRefunded, refund, original)
	uc.logger.Info("refund completed",
		zap.String("transaction_id", transactionID.String()),
		zap.String("refund_transaction_id", refund.ID.String()),
		zap.String("type", refund.Type.String()),
	)
	return refund, nil
}
