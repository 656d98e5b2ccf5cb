package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAccountName 帳戶名稱不合法 (空白或過長)
	ErrInvalidAccountName = errors.New("invalid account name")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount 金額必須為正數
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance 餘額不足
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidRefundTarget 不可退款的交易 (退款交易本身，或已被退款過)
	ErrInvalidRefundTarget = errors.New("invalid refund target")

	// ErrUnsupportedTransactionType 不支援的交易類型
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")

	// ErrDatabase 底層儲存/基礎設施錯誤
	ErrDatabase = errors.New("database error")
)

// DatabaseError 包裝無法歸類的基礎設施錯誤 (連線中斷、序列化衝突...)
type DatabaseError struct {
	Op  string
	Err error
}

// NewDatabaseError 建立 DatabaseError，err 為 nil 時回傳 nil
func NewDatabaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Err: err}
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDatabase, e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Is 讓 errors.Is(err, ErrDatabase) 成立
func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// AccountError 附帶帳戶 ID 的錯誤，仍可用 errors.Is 比對 sentinel
func AccountError(kind error, accountID uuid.UUID) error {
	return fmt.Errorf("%w: account %s", kind, accountID)
}

// TransactionError 附帶交易 ID 的錯誤
func TransactionError(kind error, transactionID uuid.UUID) error {
	return fmt.Errorf("%w: transaction %s", kind, transactionID)
}

// InsufficientBalanceError 帶上帳戶與金額資訊
func InsufficientBalanceError(accountID uuid.UUID, amount fmt.Stringer) error {
	return fmt.Errorf("%w: account %s for withdrawal of %s", ErrInsufficientBalance, accountID, amount)
}

// RollbackError 回滾失敗時與原本的錯誤合併，errors.Is 仍可比對原錯誤
// rollbackErr 為 nil 時直接回傳 cause
func RollbackError(cause, rollbackErr error) error {
	if rollbackErr == nil {
		return cause
	}
	return errors.Join(cause, NewDatabaseError("rollback", rollbackErr))
}

var ledgerErrors = []error{
	ErrInvalidAccountName,
	ErrAccountNotFound,
	ErrInvalidAmount,
	ErrInsufficientBalance,
	ErrTransactionNotFound,
	ErrInvalidRefundTarget,
	ErrUnsupportedTransactionType,
	ErrDatabase,
}

// IsLedgerError 判斷 err 是否已歸類為帳本錯誤 (含 DatabaseError)
// 儲存層用它決定是否需要再包一層 DatabaseError
func IsLedgerError(err error) bool {
	for _, kind := range ledgerErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
