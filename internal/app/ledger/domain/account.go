package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAccountNameLength 對應 accounts.name VARCHAR(100)
const MaxAccountNameLength = 100

// Account 帳戶
// Balance 只能透過 Ledger 的操作 (存款/提款/轉帳/退款) 變動
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccount 建立一個餘額為 0 的新帳戶
//
// 參數:
//
//	name: 帳戶持有人名稱，去除前後空白後不可為空，最長 100 字元
//
// 回傳:
//
//	*Account: 尚未寫入儲存層的帳戶
//	error: ErrInvalidAccountName
func NewAccount(name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxAccountNameLength {
		return nil, ErrInvalidAccountName
	}
	now := time.Now().UTC()
	return &Account{
		ID:        uuid.New(),
		Name:      name,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanWithdraw 檢查餘額是否足夠扣款
func (a *Account) CanWithdraw(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
