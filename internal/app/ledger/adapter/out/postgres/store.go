package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

const (
	accountColumns     = `id, name, balance, created_at, updated_at`
	transactionColumns = `id, seq, from_account_id, to_account_id, type, amount, reference_transaction_id, reversal, created_at, updated_at`
)

// querier pgxpool.Pool 與 pgx.Tx 共同的查詢介面
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store 以 PostgreSQL (pgx) 實作 usecase.Store
type Store struct {
	pool      *pgxpool.Pool
	txOptions pgx.TxOptions
	logger    *zap.Logger
}

// StoreOption Store 的可選設定
type StoreOption func(*Store)

// WithIsolation 設定交易隔離等級 (預設 READ COMMITTED)
func WithIsolation(level pgx.TxIsoLevel) StoreOption {
	return func(s *Store) {
		s.txOptions.IsoLevel = level
	}
}

// WithLogger 設定 zap logger (回滾失敗時記 warn)
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore 建立 PostgreSQL 帳本儲存層，pool 的生命週期交由 Store.Close
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool:      pool,
		txOptions: pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseIsolation 將設定檔的字串轉為 pgx.TxIsoLevel
func ParseIsolation(level string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", level)
	}
}

// Migrate 建立資料表與索引
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return domain.NewDatabaseError("migrate", err)
		}
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, s.txOptions)
	if err != nil {
		return domain.NewDatabaseError("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return s.rollback(ctx, tx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewDatabaseError("commit", err)
	}
	return nil
}

// rollback 回滾後回傳 cause；回滾失敗時記 warn 並與 cause 合併
func (s *Store) rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	rbErr := tx.Rollback(context.WithoutCancel(ctx))
	if rbErr == nil || errors.Is(rbErr, pgx.ErrTxClosed) {
		return cause
	}
	s.logger.Warn("transaction rollback failed", zap.Error(rbErr), zap.NamedError("cause", cause))
	return domain.RollbackError(cause, rbErr)
}

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, balance, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.Name, account.Balance, account.CreatedAt, account.UpdatedAt,
	)
	return domain.NewDatabaseError("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccountRow(row, id)
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, s.pool, id, false)
}

func (s *Store) ListTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, seq DESC
	`, accountID)
	if err != nil {
		return nil, domain.NewDatabaseError("list transactions", err)
	}
	defer rows.Close()

	trans := make([]*domain.Transaction, 0)
	for rows.Next() {
		tran, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.NewDatabaseError("list transactions", err)
		}
		trans = append(trans, tran)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDatabaseError("list transactions", err)
	}
	return trans, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// pgTx 綁定在單一 pgx.Tx 上的操作
type pgTx struct {
	tx pgx.Tx
}

// LockAccounts 以單一查詢依 ID 排序加鎖 (ORDER BY id FOR UPDATE)
func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	params := make([]string, len(ids))
	for i, id := range ids {
		params[i] = id.String()
	}

	rows, err := t.tx.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, params)
	if err != nil {
		return nil, domain.NewDatabaseError("lock accounts", err)
	}
	defer rows.Close()

	accounts := make(map[uuid.UUID]*domain.Account, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, domain.NewDatabaseError("lock accounts", err)
		}
		accounts[acc.ID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDatabaseError("lock accounts", err)
	}
	return accounts, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`,
		delta, id,
	)
	if err != nil {
		return domain.NewDatabaseError("adjust balance", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.AccountError(domain.ErrAccountNotFound, id)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tran.ID == uuid.Nil {
		tran.ID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (id, from_account_id, to_account_id, type, amount, reference_transaction_id, reversal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at, updated_at
	`,
		tran.ID,
		tran.FromAccountID,
		tran.ToAccountID,
		tran.Type.String(),
		tran.Amount,
		tran.ReferenceTransactionID,
		tran.Reversal,
	).Scan(&tran.Sequence, &tran.CreatedAt, &tran.UpdatedAt)
	if err != nil {
		return domain.NewDatabaseError("insert transaction", err)
	}
	tran.CreatedAt = tran.CreatedAt.UTC()
	tran.UpdatedAt = tran.UpdatedAt.UTC()
	return nil
}

func (t *pgTx) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateTransactionReference(ctx context.Context, id uuid.UUID, refID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE transactions SET reference_transaction_id = $1, updated_at = NOW() WHERE id = $2`,
		refID, id,
	)
	if err != nil {
		return domain.NewDatabaseError("update transaction reference", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.TransactionError(domain.ErrTransactionNotFound, id)
	}
	return nil
}

func getTransaction(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	tran, err := scanTransaction(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.TransactionError(domain.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, domain.NewDatabaseError("get transaction", err)
	}
	return tran, nil
}

func scanAccountRow(row pgx.Row, id uuid.UUID) (*domain.Account, error) {
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.AccountError(domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, domain.NewDatabaseError("get account", err)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	if err := row.Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return &acc, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tran          domain.Transaction
		from, to, ref uuid.NullUUID
		tag           string
	)
	err := row.Scan(
		&tran.ID,
		&tran.Sequence,
		&from,
		&to,
		&tag,
		&tran.Amount,
		&ref,
		&tran.Reversal,
		&tran.CreatedAt,
		&tran.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tran.Type, err = domain.ParseTransactionType(tag); err != nil {
		return nil, err
	}
	tran.FromAccountID = nullable(from)
	tran.ToAccountID = nullable(to)
	tran.ReferenceTransactionID = nullable(ref)
	tran.CreatedAt = tran.CreatedAt.UTC()
	tran.UpdatedAt = tran.UpdatedAt.UTC()
	return &tran, nil
}

func nullable(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := id.UUID
	return &u
}

var _ usecase.Store = (*Store)(nil)
