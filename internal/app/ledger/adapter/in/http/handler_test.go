package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	return NewApp(NewHandler(usecase.NewLedgerUseCase(store), nil))
}

// do 發送請求並將回應 JSON 解碼到 out (out 可為 nil)
func do(t *testing.T, app *fiber.App, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createAccount(t *testing.T, app *fiber.App, name string) domain.Account {
	t.Helper()
	var acc domain.Account
	status := do(t, app, fiber.MethodPost, "/v1/accounts", `{"name":"`+name+`"}`, &acc)
	require.Equal(t, fiber.StatusCreated, status)
	return acc
}

func TestRefundScenario(t *testing.T) {
	app := newTestApp(t)
	alice := createAccount(t, app, "Alice")
	bob := createAccount(t, app, "Bob")

	var deposit domain.Transaction
	status := do(t, app, fiber.MethodPost, "/v1/accounts/"+alice.ID.String()+"/deposit", `{"amount":"1000"}`, &deposit)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, domain.TransactionTypeDeposit, deposit.Type)

	var transfer domain.Transaction
	body := `{"from_account_id":"` + alice.ID.String() + `","to_account_id":"` + bob.ID.String() + `","amount":250.75}`
	status = do(t, app, fiber.MethodPost, "/v1/transfers", body, &transfer)
	require.Equal(t, fiber.StatusCreated, status)
	assert.True(t, decimal.RequireFromString("250.75").Equal(transfer.Amount))

	var refund domain.Transaction
	status = do(t, app, fiber.MethodPost, "/v1/transactions/"+transfer.ID.String()+"/refund", "", &refund)
	require.Equal(t, fiber.StatusCreated, status)
	assert.True(t, refund.Reversal)
	require.NotNil(t, refund.FromAccountID)
	assert.Equal(t, bob.ID, *refund.FromAccountID)

	var original domain.Transaction
	status = do(t, app, fiber.MethodGet, "/v1/transactions/"+transfer.ID.String(), "", &original)
	require.Equal(t, fiber.StatusOK, status)
	require.NotNil(t, original.ReferenceTransactionID)
	assert.Equal(t, refund.ID, *original.ReferenceTransactionID)

	var balance struct {
		AccountID uuid.UUID       `json:"account_id"`
		Balance   decimal.Decimal `json:"balance"`
	}
	status = do(t, app, fiber.MethodGet, "/v1/accounts/"+alice.ID.String()+"/balance", "", &balance)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, decimal.NewFromInt(1000).Equal(balance.Balance), "balance = %s", balance.Balance)

	var history struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	status = do(t, app, fiber.MethodGet, "/v1/accounts/"+bob.ID.String()+"/transactions", "", &history)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, history.Transactions, 2)
	assert.Equal(t, refund.ID, history.Transactions[0].ID)

	var report usecase.ReconcileReport
	status = do(t, app, fiber.MethodGet, "/v1/accounts/"+alice.ID.String()+"/reconcile", "", &report)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, report.Consistent)

	var acc domain.Account
	status = do(t, app, fiber.MethodGet, "/v1/accounts/"+bob.ID.String(), "", &acc)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, acc.Balance.IsZero())
}

func TestWithdrawAllowNegative(t *testing.T) {
	app := newTestApp(t)
	acc := createAccount(t, app, "Alice")
	path := "/v1/accounts/" + acc.ID.String() + "/withdraw"

	var errResp errorResponse
	status := do(t, app, fiber.MethodPost, path, `{"amount":"5"}`, &errResp)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_balance", errResp.Code)

	var tran domain.Transaction
	status = do(t, app, fiber.MethodPost, path, `{"amount":"5","allow_negative":true}`, &tran)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, domain.TransactionTypeWithdrawal, tran.Type)
}

func TestErrorResponses(t *testing.T) {
	app := newTestApp(t)
	acc := createAccount(t, app, "Alice")
	accPath := "/v1/accounts/" + acc.ID.String()

	var deposit domain.Transaction
	require.Equal(t, fiber.StatusCreated, do(t, app, fiber.MethodPost, accPath+"/deposit", `{"amount":"10"}`, &deposit))
	var refund domain.Transaction
	require.Equal(t, fiber.StatusCreated, do(t, app, fiber.MethodPost, "/v1/transactions/"+deposit.ID.String()+"/refund", "", &refund))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"blank name", fiber.MethodPost, "/v1/accounts", `{"name":"   "}`, fiber.StatusBadRequest, "invalid_account_name"},
		{"malformed body", fiber.MethodPost, "/v1/accounts", `{"name":`, fiber.StatusBadRequest, "invalid_request"},
		{"malformed id", fiber.MethodGet, "/v1/accounts/nope", "", fiber.StatusBadRequest, "invalid_request"},
		{"unknown account", fiber.MethodGet, "/v1/accounts/" + uuid.NewString() + "/balance", "", fiber.StatusNotFound, "account_not_found"},
		{"unknown account history", fiber.MethodGet, "/v1/accounts/" + uuid.NewString() + "/transactions", "", fiber.StatusNotFound, "account_not_found"},
		{"negative amount", fiber.MethodPost, accPath + "/deposit", `{"amount":"-1"}`, fiber.StatusBadRequest, "invalid_amount"},
		{"missing amount", fiber.MethodPost, accPath + "/deposit", `{}`, fiber.StatusBadRequest, "invalid_amount"},
		{"unknown transaction", fiber.MethodPost, "/v1/transactions/" + uuid.NewString() + "/refund", "", fiber.StatusNotFound, "transaction_not_found"},
		{"refund twice", fiber.MethodPost, "/v1/transactions/" + deposit.ID.String() + "/refund", "", fiber.StatusConflict, "invalid_refund_target"},
		{"refund a refund", fiber.MethodPost, "/v1/transactions/" + refund.ID.String() + "/refund", "", fiber.StatusConflict, "invalid_refund_target"},
		{"transfer bad id", fiber.MethodPost, "/v1/transfers", `{"from_account_id":"x","to_account_id":"y","amount":"1"}`, fiber.StatusBadRequest, "invalid_request"},
		{"unknown route", fiber.MethodGet, "/v1/nothing", "", fiber.StatusNotFound, "http_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := do(t, app, tt.method, tt.path, tt.body, &resp)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	h := NewHandler(nil, nil)
	app := fiber.New(fiber.Config{ErrorHandler: h.errorHandler})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return domain.NewDatabaseError("commit", assert.AnError)
	})

	var resp errorResponse
	status := do(t, app, fiber.MethodGet, "/boom", "", &resp)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "internal", resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}

func TestAmountsUseTwoDecimals(t *testing.T) {
	app := newTestApp(t)
	alice := createAccount(t, app, "Alice")

	var deposit map[string]any
	status := do(t, app, fiber.MethodPost, "/v1/accounts/"+alice.ID.String()+"/deposit", `{"amount":"100"}`, &deposit)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "100.00", deposit["amount"])

	var balance map[string]any
	do(t, app, fiber.MethodGet, "/v1/accounts/"+alice.ID.String()+"/balance", "", &balance)
	assert.Equal(t, "100.00", balance["balance"])

	var account map[string]any
	do(t, app, fiber.MethodGet, "/v1/accounts/"+alice.ID.String(), "", &account)
	assert.Equal(t, "100.00", account["balance"])

	var report map[string]any
	do(t, app, fiber.MethodGet, "/v1/accounts/"+alice.ID.String()+"/reconcile", "", &report)
	assert.Equal(t, "100.00", report["stored"])
	assert.Equal(t, "100.00", report["derived"])
	assert.Equal(t, true, report["consistent"])
}
