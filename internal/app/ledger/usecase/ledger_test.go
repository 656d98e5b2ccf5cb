package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedger(t *testing.T, opts ...usecase.Option) (*usecase.LedgerUseCase, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	uc := usecase.NewLedgerUseCase(store, opts...)
	t.Cleanup(func() { _ = uc.Close(context.Background()) })
	return uc, store
}

func newAccount(t *testing.T, uc *usecase.LedgerUseCase, name string) uuid.UUID {
	t.Helper()
	acc, err := uc.CreateAccount(context.Background(), name)
	require.NoError(t, err)
	return acc.ID
}

func requireBalance(t *testing.T, uc *usecase.LedgerUseCase, id uuid.UUID, expected string) {
	t.Helper()
	got, err := uc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, dec(expected).Equal(got), "balance: expected %s, got %s", expected, got)
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	b := newAccount(t, uc, "Kelvin")

	_, err := uc.Deposit(ctx, a, dec("500"))
	require.NoError(t, err)
	requireBalance(t, uc, a, "500")

	_, err = uc.Deposit(ctx, b, dec("300"))
	require.NoError(t, err)
	requireBalance(t, uc, b, "300")

	_, err = uc.Withdraw(ctx, a, dec("150"))
	require.NoError(t, err)
	requireBalance(t, uc, a, "350")

	transfer, err := uc.Transfer(ctx, a, b, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeTransfer, transfer.Type)
	requireBalance(t, uc, a, "250")
	requireBalance(t, uc, b, "400")

	refund, err := uc.Refund(ctx, transfer.ID)
	require.NoError(t, err)
	requireBalance(t, uc, a, "350")
	requireBalance(t, uc, b, "300")

	assert.Equal(t, domain.TransactionTypeTransfer, refund.Type)
	assert.Equal(t, b, *refund.FromAccountID)
	assert.Equal(t, a, *refund.ToAccountID)
	assert.True(t, dec("100").Equal(refund.Amount))
	require.NotNil(t, refund.ReferenceTransactionID)
	assert.Equal(t, transfer.ID, *refund.ReferenceTransactionID)

	original, err := uc.GetTransaction(ctx, transfer.ID)
	require.NoError(t, err)
	require.NotNil(t, original.ReferenceTransactionID)
	assert.Equal(t, refund.ID, *original.ReferenceTransactionID)

	_, err = uc.Refund(ctx, refund.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRefundTarget)

	_, err = uc.Withdraw(ctx, b, dec("50"))
	require.NoError(t, err)
	requireBalance(t, uc, b, "250")

	for _, id := range []uuid.UUID{a, b} {
		report, err := uc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent, "account %s stored %s derived %s", id, report.Stored, report.Derived)
	}
}

func TestDepositValidation(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")

	tests := []struct {
		name      string
		accountID uuid.UUID
		amount    string
		expected  error
	}{
		{name: "zero amount", accountID: a, amount: "0", expected: domain.ErrInvalidAmount},
		{name: "negative amount", accountID: a, amount: "-10", expected: domain.ErrInvalidAmount},
		{name: "exceeds decimal(12,2)", accountID: a, amount: "10000000000", expected: domain.ErrInvalidAmount},
		{name: "unknown account", accountID: uuid.New(), amount: "10", expected: domain.ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Deposit(ctx, tt.accountID, dec(tt.amount))
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	requireBalance(t, uc, a, "0")
	history, err := uc.GetHistory(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDepositRecordShape(t *testing.T) {
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")

	tran, err := uc.Deposit(context.Background(), a, dec("10.456"))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tran.ID)
	assert.Equal(t, domain.TransactionTypeDeposit, tran.Type)
	assert.Equal(t, a, *tran.FromAccountID)
	assert.Nil(t, tran.ToAccountID)
	assert.Nil(t, tran.ReferenceTransactionID)
	assert.True(t, dec("10.46").Equal(tran.Amount))
	assert.False(t, tran.CreatedAt.IsZero())
	assert.NotZero(t, tran.Sequence)
}

func TestWithdrawInsufficientBalanceLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	_, err := uc.Deposit(ctx, a, dec("100"))
	require.NoError(t, err)

	_, err = uc.Withdraw(ctx, a, dec("100.01"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	requireBalance(t, uc, a, "100")
	history, err := uc.GetHistory(ctx, a)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestWithdrawAllowNegative(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")

	tran, err := uc.Withdraw(ctx, a, dec("40"), usecase.AllowNegative())
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeWithdrawal, tran.Type)
	requireBalance(t, uc, a, "-40")
}

func TestWithdrawExactBalance(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	_, err := uc.Deposit(ctx, a, dec("25.50"))
	require.NoError(t, err)

	_, err = uc.Withdraw(ctx, a, dec("25.50"))
	require.NoError(t, err)
	requireBalance(t, uc, a, "0")
}

func TestTransferMissingAccounts(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	_, err := uc.Deposit(ctx, a, dec("100"))
	require.NoError(t, err)
	missingFrom, missingTo := uuid.New(), uuid.New()

	tests := []struct {
		name     string
		from, to uuid.UUID
		named    uuid.UUID
	}{
		{name: "missing destination", from: a, to: missingTo, named: missingTo},
		{name: "missing source", from: missingFrom, to: a, named: missingFrom},
		{name: "both missing reports source", from: missingFrom, to: missingTo, named: missingFrom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Transfer(ctx, tt.from, tt.to, dec("10"))
			require.ErrorIs(t, err, domain.ErrAccountNotFound)
			assert.Contains(t, err.Error(), tt.named.String())
		})
	}

	requireBalance(t, uc, a, "100")
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	b := newAccount(t, uc, "Bob")
	_, err := uc.Deposit(ctx, a, dec("50"))
	require.NoError(t, err)

	_, err = uc.Transfer(ctx, a, b, dec("60"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	requireBalance(t, uc, a, "50")
	requireBalance(t, uc, b, "0")

	_, err = uc.Transfer(ctx, a, b, dec("60"), usecase.AllowNegative())
	require.NoError(t, err)
	requireBalance(t, uc, a, "-10")
	requireBalance(t, uc, b, "60")
}

func TestRefundInverseEffects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		setup        func(t *testing.T, uc *usecase.LedgerUseCase, a, b uuid.UUID) *domain.Transaction
		expectedType domain.TransactionType
		balanceA     string
		balanceB     string
	}{
		{
			name: "deposit",
			setup: func(t *testing.T, uc *usecase.LedgerUseCase, a, b uuid.UUID) *domain.Transaction {
				tran, err := uc.Deposit(ctx, a, dec("70"))
				require.NoError(t, err)
				return tran
			},
			expectedType: domain.TransactionTypeWithdrawal,
			balanceA:     "100",
			balanceB:     "100",
		},
		{
			name: "withdrawal",
			setup: func(t *testing.T, uc *usecase.LedgerUseCase, a, b uuid.UUID) *domain.Transaction {
				tran, err := uc.Withdraw(ctx, a, dec("30"))
				require.NoError(t, err)
				return tran
			},
			expectedType: domain.TransactionTypeDeposit,
			balanceA:     "100",
			balanceB:     "100",
		},
		{
			name: "transfer",
			setup: func(t *testing.T, uc *usecase.LedgerUseCase, a, b uuid.UUID) *domain.Transaction {
				tran, err := uc.Transfer(ctx, a, b, dec("45.25"))
				require.NoError(t, err)
				return tran
			},
			expectedType: domain.TransactionTypeTransfer,
			balanceA:     "100",
			balanceB:     "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, _ := newLedger(t)
			a := newAccount(t, uc, "Alice")
			b := newAccount(t, uc, "Bob")
			_, err := uc.Deposit(ctx, a, dec("100"))
			require.NoError(t, err)
			_, err = uc.Deposit(ctx, b, dec("100"))
			require.NoError(t, err)

			original := tt.setup(t, uc, a, b)
			refund, err := uc.Refund(ctx, original.ID)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedType, refund.Type)
			assert.True(t, refund.Reversal)
			assert.Equal(t, original.ID, *refund.ReferenceTransactionID)
			requireBalance(t, uc, a, tt.balanceA)
			requireBalance(t, uc, b, tt.balanceB)

			_, err = uc.Refund(ctx, original.ID)
			assert.ErrorIs(t, err, domain.ErrInvalidRefundTarget)
			requireBalance(t, uc, a, tt.balanceA)
		})
	}
}

func TestRefundWithdrawalRecordUsesToSide(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	_, err := uc.Deposit(ctx, a, dec("10"))
	require.NoError(t, err)
	withdrawal, err := uc.Withdraw(ctx, a, dec("10"))
	require.NoError(t, err)

	refund, err := uc.Refund(ctx, withdrawal.ID)
	require.NoError(t, err)

	assert.Nil(t, refund.FromAccountID)
	require.NotNil(t, refund.ToAccountID)
	assert.Equal(t, a, *refund.ToAccountID)

	history, err := uc.GetHistory(ctx, a)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, refund.ID, history[0].ID)
}

func TestRefundMayDriveBalanceNegative(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	deposit, err := uc.Deposit(ctx, a, dec("100"))
	require.NoError(t, err)
	_, err = uc.Withdraw(ctx, a, dec("80"))
	require.NoError(t, err)

	_, err = uc.Refund(ctx, deposit.ID)
	require.NoError(t, err)
	requireBalance(t, uc, a, "-80")
}

func TestRefundUnknownTransaction(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	_, err := uc.Deposit(ctx, a, dec("10"))
	require.NoError(t, err)

	_, err = uc.Refund(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)

	requireBalance(t, uc, a, "10")
	history, err := uc.GetHistory(ctx, a)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistoryOrderAndScope(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	b := newAccount(t, uc, "Bob")
	c := newAccount(t, uc, "Carol")

	d1, err := uc.Deposit(ctx, a, dec("100"))
	require.NoError(t, err)
	tr, err := uc.Transfer(ctx, a, b, dec("10"))
	require.NoError(t, err)
	_, err = uc.Deposit(ctx, c, dec("5"))
	require.NoError(t, err)
	w, err := uc.Withdraw(ctx, a, dec("1"))
	require.NoError(t, err)

	history, err := uc.GetHistory(ctx, a)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []uuid.UUID{w.ID, tr.ID, d1.ID}, []uuid.UUID{history[0].ID, history[1].ID, history[2].ID})

	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		assert.False(t, cur.CreatedAt.After(prev.CreatedAt))
		if cur.CreatedAt.Equal(prev.CreatedAt) {
			assert.Greater(t, prev.Sequence, cur.Sequence)
		}
	}

	bHistory, err := uc.GetHistory(ctx, b)
	require.NoError(t, err)
	require.Len(t, bHistory, 1)
	assert.Equal(t, tr.ID, bHistory[0].ID)

	_, err = uc.GetHistory(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCreateAccountValidation(t *testing.T) {
	uc, _ := newLedger(t)

	_, err := uc.CreateAccount(context.Background(), " \t ")
	assert.ErrorIs(t, err, domain.ErrInvalidAccountName)

	_, err = uc.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCanceledContextRollsBack(t *testing.T) {
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.Deposit(ctx, a, dec("10"))
	require.ErrorIs(t, err, domain.ErrDatabase)
	require.ErrorIs(t, err, context.Canceled)

	requireBalance(t, uc, a, "0")
	history, err := uc.GetHistory(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// failingStore 在指定步驟注入基礎設施錯誤
type failingStore struct {
	usecase.Store
	failInsert    bool
	failReference bool
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, store: s})
	})
}

type failingTx struct {
	usecase.Tx
	store *failingStore
}

var errInjected = errors.New("injected failure")

func (tx *failingTx) InsertTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tx.store.failInsert {
		return domain.NewDatabaseError("insert transaction", errInjected)
	}
	return tx.Tx.InsertTransaction(ctx, tran)
}

func (tx *failingTx) UpdateTransactionReference(ctx context.Context, id, refID uuid.UUID) error {
	if tx.store.failReference {
		return domain.NewDatabaseError("update reference", errInjected)
	}
	return tx.Tx.UpdateTransactionReference(ctx, id, refID)
}

func TestInfrastructureFailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewStore(nil)
	require.NoError(t, err)
	store := &failingStore{Store: mem}
	uc := usecase.NewLedgerUseCase(store)

	a := newAccount(t, uc, "Alice")
	b := newAccount(t, uc, "Bob")
	transfer := func() *domain.Transaction {
		_, err := uc.Deposit(ctx, a, dec("100"))
		require.NoError(t, err)
		tran, err := uc.Transfer(ctx, a, b, dec("40"))
		require.NoError(t, err)
		return tran
	}()

	store.failInsert = true
	_, err = uc.Transfer(ctx, a, b, dec("10"))
	require.ErrorIs(t, err, domain.ErrDatabase)
	requireBalance(t, uc, a, "60")
	requireBalance(t, uc, b, "40")

	store.failInsert = false
	store.failReference = true
	_, err = uc.Refund(ctx, transfer.ID)
	require.ErrorIs(t, err, errInjected)
	requireBalance(t, uc, a, "60")
	requireBalance(t, uc, b, "40")

	original, err := uc.GetTransaction(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Nil(t, original.ReferenceTransactionID)

	history, err := uc.GetHistory(ctx, b)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// 失敗後仍可正常退款
	store.failReference = false
	_, err = uc.Refund(ctx, transfer.ID)
	require.NoError(t, err)
	requireBalance(t, uc, a, "100")
	requireBalance(t, uc, b, "0")
}

func TestConcurrentOperationsKeepBalancesConsistent(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	b := newAccount(t, uc, "Bob")
	_, err := uc.Deposit(ctx, a, dec("1000"))
	require.NoError(t, err)
	_, err = uc.Deposit(ctx, b, dec("1000"))
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := uc.Transfer(ctx, a, b, dec("3"))
				assert.NoError(t, err)
				return
			}
			_, err := uc.Transfer(ctx, b, a, dec("1"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 25 筆 a->b 3 元，25 筆 b->a 1 元
	requireBalance(t, uc, a, "950")
	requireBalance(t, uc, b, "1050")

	for _, id := range []uuid.UUID{a, b} {
		report, err := uc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent)
	}
}

func TestConcurrentRefundsOnlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	uc, _ := newLedger(t)
	a := newAccount(t, uc, "Alice")
	deposit, err := uc.Deposit(ctx, a, dec("100"))
	require.NoError(t, err)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := uc.Refund(ctx, deposit.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInvalidRefundTarget):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)
	requireBalance(t, uc, a, "0")
}
