package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// FormatAmount 以固定 AmountScale 位小數輸出金額 ("100" -> "100.00")
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}

// MarshalJSON balance 以固定兩位小數的字串輸出
func (a Account) MarshalJSON() ([]byte, error) {
	type account Account
	return json.Marshal(struct {
		account
		Balance string `json:"balance"`
	}{account(a), FormatAmount(a.Balance)})
}

// MarshalJSON amount 以固定兩位小數的字串輸出
func (t Transaction) MarshalJSON() ([]byte, error) {
	type transaction Transaction
	return json.Marshal(struct {
		transaction
		Amount string `json:"amount"`
	}{transaction(t), FormatAmount(t.Amount)})
}
