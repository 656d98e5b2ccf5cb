package domain

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale 金額精度：小數點後 2 位 (DECIMAL(12, 2))
const AmountScale = 2

// TransactionType 交易類型
// 封閉的列舉，新增類型時 Adjustments / Inverse 的 switch 都必須處理
type TransactionType uint8

const (
	transactionTypeUnknown TransactionType = iota
	// 存款
	TransactionTypeDeposit
	// 提款
	TransactionTypeWithdrawal
	// 轉帳
	TransactionTypeTransfer
	// 退款 (保留的標記，目前退款紀錄沿用反向操作的類型)
	TransactionTypeRefund
)

var transactionTypeTags = map[TransactionType]string{
	TransactionTypeDeposit:    "deposit",
	TransactionTypeWithdrawal: "withdrawal",
	TransactionTypeTransfer:   "transfer",
	TransactionTypeRefund:     "refund",
}

// String 回傳持久化用的字串標籤
func (t TransactionType) String() string {
	if tag, ok := transactionTypeTags[t]; ok {
		return tag
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseTransactionType 將字串標籤轉回 TransactionType
func ParseTransactionType(tag string) (TransactionType, error) {
	for t, s := range transactionTypeTags {
		if s == tag {
			return t, nil
		}
	}
	return transactionTypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedTransactionType, tag)
}

func (t TransactionType) MarshalText() ([]byte, error) {
	tag, ok := transactionTypeTags[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTransactionType, uint8(t))
	}
	return []byte(tag), nil
}

func (t *TransactionType) UnmarshalText(text []byte) error {
	parsed, err := ParseTransactionType(string(bytes.TrimSpace(text)))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Transaction 交易紀錄
// 建立後不可變，唯一允許的修改是退款後在原交易上回填 ReferenceTransactionID
type Transaction struct {
	ID                     uuid.UUID       `json:"id"`
	FromAccountID          *uuid.UUID      `json:"from_account_id"`
	ToAccountID            *uuid.UUID      `json:"to_account_id"`
	Type                   TransactionType `json:"type"`
	Amount                 decimal.Decimal `json:"amount"`
	ReferenceTransactionID *uuid.UUID      `json:"reference_transaction_id"`
	// Reversal: 此紀錄是由 Refund 產生的
	Reversal bool `json:"reversal"`
	// Sequence: 儲存層分配的插入順序號，作為同時間戳的排序依據
	Sequence  uint64    `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceAdjustment 單一帳戶的相對餘額調整 (balance = balance + Delta)
type BalanceAdjustment struct {
	AccountID uuid.UUID
	Delta     decimal.Decimal
}

// MaxAmount DECIMAL(12, 2) 可存放的最大金額
var MaxAmount = decimal.RequireFromString("9999999999.99")

// NormalizeAmount 將金額四捨五入至 AmountScale 並檢查落在 (0, MaxAmount]
func NormalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(AmountScale)
	if !rounded.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if rounded.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount, MaxAmount.StringFixed(AmountScale))
	}
	return rounded, nil
}

// subject 存款/提款只涉及一個帳戶
// 一般紀錄寫在 from，退款產生的存款寫在 to
func (t *Transaction) subject() *uuid.UUID {
	if t.FromAccountID != nil {
		return t.FromAccountID
	}
	return t.ToAccountID
}

// Adjustments 回傳這筆紀錄對各帳戶的餘額影響
func (t *Transaction) Adjustments() ([]BalanceAdjustment, error) {
	switch t.Type {
	case TransactionTypeDeposit:
		id := t.subject()
		if id == nil {
			return nil, fmt.Errorf("%w: deposit without account", ErrAccountNotFound)
		}
		return []BalanceAdjustment{{AccountID: *id, Delta: t.Amount}}, nil
	case TransactionTypeWithdrawal:
		id := t.subject()
		if id == nil {
			return nil, fmt.Errorf("%w: withdrawal without account", ErrAccountNotFound)
		}
		return []BalanceAdjustment{{AccountID: *id, Delta: t.Amount.Neg()}}, nil
	case TransactionTypeTransfer:
		if t.FromAccountID == nil || t.ToAccountID == nil {
			return nil, fmt.Errorf("%w: transfer without both accounts", ErrAccountNotFound)
		}
		return []BalanceAdjustment{
			{AccountID: *t.FromAccountID, Delta: t.Amount.Neg()},
			{AccountID: *t.ToAccountID, Delta: t.Amount},
		}, nil
	case TransactionTypeRefund:
		return nil, fmt.Errorf("%w: %s has no balance effect of its own", ErrUnsupportedTransactionType, t.Type)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransactionType, t.Type)
	}
}

// Effect 這筆紀錄對指定帳戶的有號金額 (存款 +、提款 -、轉出 -、轉入 +)
func (t *Transaction) Effect(accountID uuid.UUID) decimal.Decimal {
	adjustments, err := t.Adjustments()
	if err != nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, adj := range adjustments {
		if adj.AccountID == accountID {
			total = total.Add(adj.Delta)
		}
	}
	return total
}

// AccountIDs 回傳需要鎖定的帳戶 ID，已排序以避免死鎖
func (t *Transaction) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.FromAccountID != nil {
		ids = append(ids, *t.FromAccountID)
	}
	if t.ToAccountID != nil && (t.FromAccountID == nil || *t.ToAccountID != *t.FromAccountID) {
		ids = append(ids, *t.ToAccountID)
	}
	SortAccountIDs(ids)
	return ids
}

// Touches 紀錄是否涉及指定帳戶
func (t *Transaction) Touches(accountID uuid.UUID) bool {
	return (t.FromAccountID != nil && *t.FromAccountID == accountID) ||
		(t.ToAccountID != nil && *t.ToAccountID == accountID)
}

// ValidateRefundable 退款前檢查
// 退款紀錄本身、或已設定 ReferenceTransactionID (已被退款) 的交易都不可退款
func (t *Transaction) ValidateRefundable() error {
	if t.Type == TransactionTypeRefund || t.Reversal || t.ReferenceTransactionID != nil {
		return fmt.Errorf("%w: cannot refund transaction %s", ErrInvalidRefundTarget, t.ID)
	}
	return nil
}

// Inverse 計算退款紀錄的形狀
//
//	deposit    -> withdrawal, from = 原 from
//	withdrawal -> deposit,    to   = 原 from
//	transfer   -> transfer,   from = 原 to, to = 原 from
//
// 回傳的紀錄尚未分配 ID，ReferenceTransactionID 指向原交易
func (t *Transaction) Inverse() (*Transaction, error) {
	refund := &Transaction{
		Amount:                 t.Amount,
		ReferenceTransactionID: ptr(t.ID),
		Reversal:               true,
	}
	switch t.Type {
	case TransactionTypeDeposit:
		refund.Type = TransactionTypeWithdrawal
		refund.FromAccountID = copyID(t.FromAccountID)
	case TransactionTypeWithdrawal:
		refund.Type = TransactionTypeDeposit
		refund.ToAccountID = copyID(t.FromAccountID)
	case TransactionTypeTransfer:
		refund.Type = TransactionTypeTransfer
		refund.FromAccountID = copyID(t.ToAccountID)
		refund.ToAccountID = copyID(t.FromAccountID)
	case TransactionTypeRefund:
		return nil, fmt.Errorf("%w: cannot refund a refund transaction", ErrInvalidRefundTarget)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransactionType, t.Type)
	}
	return refund, nil
}

// SortAccountIDs 依位元組順序排序 (與資料庫 UUID 排序一致)
func SortAccountIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	return ptr(*id)
}
