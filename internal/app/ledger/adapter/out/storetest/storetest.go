// Package storetest 提供 usecase.Store 實作共用的行為測試
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// Factory 為每個子測試建立一個乾淨的 Store
type Factory func(t *testing.T) usecase.Store

// Run 對 Store 實作執行完整的行為測試
func Run(t *testing.T, newStore Factory) {
	t.Run("AccountRoundTrip", func(t *testing.T) { testAccountRoundTrip(t, newStore(t)) })
	t.Run("MissingRecords", func(t *testing.T) { testMissingRecords(t, newStore(t)) })
	t.Run("CommitIsVisible", func(t *testing.T) { testCommitIsVisible(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("LockAccountsOmitsMissing", func(t *testing.T) { testLockAccountsOmitsMissing(t, newStore(t)) })
	t.Run("HistoryOrder", func(t *testing.T) { testHistoryOrder(t, newStore(t)) })
	t.Run("ReferenceUpdate", func(t *testing.T) { testReferenceUpdate(t, newStore(t)) })
}

func createAccount(t *testing.T, store usecase.Store, name string) *domain.Account {
	t.Helper()
	acc, err := domain.NewAccount(name)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), acc))
	return acc
}

func deposit(t *testing.T, store usecase.Store, accountID uuid.UUID, amount int64) *domain.Transaction {
	t.Helper()
	tran := &domain.Transaction{
		ToAccountID: &accountID,
		Type:        domain.TransactionTypeDeposit,
		Amount:      decimal.NewFromInt(amount),
	}
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		if err := tx.AdjustBalance(ctx, accountID, tran.Amount); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, tran)
	})
	require.NoError(t, err)
	return tran
}

func testAccountRoundTrip(t *testing.T, store usecase.Store) {
	acc := createAccount(t, store, "Alice")

	got, err := store.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.Equal(t, "Alice", got.Name)
	assert.True(t, got.Balance.IsZero())
}

func testMissingRecords(t *testing.T, store usecase.Store) {
	ctx := context.Background()

	_, err := store.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = store.GetTransaction(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	err = store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		return tx.AdjustBalance(ctx, uuid.New(), decimal.NewFromInt(1))
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	err = store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		return tx.UpdateTransactionReference(ctx, uuid.New(), uuid.New())
	})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func testCommitIsVisible(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	acc := createAccount(t, store, "Alice")

	first := deposit(t, store, acc.ID, 100)
	second := deposit(t, store, acc.ID, 50)

	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Greater(t, second.Sequence, first.Sequence)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(got.Balance), "balance = %s", got.Balance)

	stored, err := store.GetTransaction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeDeposit, stored.Type)
	assert.True(t, decimal.NewFromInt(100).Equal(stored.Amount))
	require.NotNil(t, stored.ToAccountID)
	assert.Equal(t, acc.ID, *stored.ToAccountID)
	assert.Nil(t, stored.FromAccountID)
	assert.Nil(t, stored.ReferenceTransactionID)
	assert.False(t, stored.Reversal)
}

func testRollbackOnError(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	acc := createAccount(t, store, "Alice")
	boom := errors.New("boom")

	var inserted uuid.UUID
	err := store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		if err := tx.AdjustBalance(ctx, acc.ID, decimal.NewFromInt(100)); err != nil {
			return err
		}
		tran := &domain.Transaction{ToAccountID: &acc.ID, Type: domain.TransactionTypeDeposit, Amount: decimal.NewFromInt(100)}
		if err := tx.InsertTransaction(ctx, tran); err != nil {
			return err
		}
		inserted = tran.ID
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())

	_, err = store.GetTransaction(ctx, inserted)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	history, err := store.ListTransactionsForAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testLockAccountsOmitsMissing(t *testing.T, store usecase.Store) {
	acc := createAccount(t, store, "Alice")
	missing := uuid.New()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx usecase.Tx) error {
		accounts, err := tx.LockAccounts(ctx, missing, acc.ID, acc.ID)
		if err != nil {
			return err
		}
		assert.Len(t, accounts, 1)
		assert.Contains(t, accounts, acc.ID)
		assert.NotContains(t, accounts, missing)
		return nil
	})
	require.NoError(t, err)
}

func testHistoryOrder(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	alice := createAccount(t, store, "Alice")
	bob := createAccount(t, store, "Bob")

	first := deposit(t, store, alice.ID, 10)
	deposit(t, store, bob.ID, 10)

	// 同一範圍內寫入兩筆，時間戳可能相同，需以 Sequence 決定先後
	var second, third *domain.Transaction
	err := store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		second = &domain.Transaction{FromAccountID: &alice.ID, ToAccountID: &bob.ID, Type: domain.TransactionTypeTransfer, Amount: decimal.NewFromInt(1)}
		third = &domain.Transaction{FromAccountID: &bob.ID, ToAccountID: &alice.ID, Type: domain.TransactionTypeTransfer, Amount: decimal.NewFromInt(1)}
		if err := tx.InsertTransaction(ctx, second); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, third)
	})
	require.NoError(t, err)

	history, err := store.ListTransactionsForAccount(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, third.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
	assert.Equal(t, first.ID, history[2].ID)
}

func testReferenceUpdate(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	acc := createAccount(t, store, "Alice")
	original := deposit(t, store, acc.ID, 10)
	refID := deposit(t, store, acc.ID, 5).ID

	err := store.WithinTx(ctx, func(ctx context.Context, tx usecase.Tx) error {
		locked, err := tx.GetTransaction(ctx, original.ID)
		if err != nil {
			return err
		}
		assert.Nil(t, locked.ReferenceTransactionID)
		return tx.UpdateTransactionReference(ctx, original.ID, refID)
	})
	require.NoError(t, err)

	got, err := store.GetTransaction(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReferenceTransactionID)
	assert.Equal(t, refID, *got.ReferenceTransactionID)
}
