package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-refund-ledger/pkg/mysql"
)

// Store 以 MySQL (GORM) 實作 usecase.Store
// 帳戶鎖使用 SELECT ... FOR UPDATE，並依 ID 排序避免死結
type Store struct {
	client    *mysql.Client
	txOptions *sql.TxOptions
	logger    *zap.Logger
}

// StoreOption Store 的可選設定
type StoreOption func(*Store)

// WithIsolation 設定交易隔離等級 (預設 READ COMMITTED)
func WithIsolation(level sql.IsolationLevel) StoreOption {
	return func(s *Store) {
		s.txOptions = &sql.TxOptions{Isolation: level}
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

// NewStore 建立 MySQL 帳本儲存層
func NewStore(client *mysql.Client, opts ...StoreOption) *Store {
	s := &Store{
		client:    client,
		txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseIsolation 將設定檔的字串轉為 sql.IsolationLevel
func ParseIsolation(level string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", level)
	}
}

// Migrate 建立 accounts / transactions 表
func (s *Store) Migrate(ctx context.Context) error {
	err := s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
	return domain.NewDatabaseError("migrate", err)
}

// WithinTx 不使用 db.Transaction，因為它會丟掉 Rollback 的錯誤
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	db := s.client.DB().WithContext(ctx).Begin(s.txOptions)
	if db.Error != nil {
		return domain.NewDatabaseError("begin", db.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			db.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &gormTx{db: db}); err != nil {
		if !domain.IsLedgerError(err) {
			err = domain.NewDatabaseError("transaction", err)
		}
		return s.rollbackFailed(err, db.Rollback().Error)
	}
	if err := db.Commit().Error; err != nil {
		return domain.NewDatabaseError("commit", err)
	}
	return nil
}

// rollbackFailed 回滾失敗時記 warn 並與 cause 合併
// sql.ErrTxDone 表示 ctx 取消後 database/sql 已自動回滾
func (s *Store) rollbackFailed(cause, rbErr error) error {
	if rbErr == nil || errors.Is(rbErr, sql.ErrTxDone) {
		return cause
	}
	s.logger.Warn("transaction rollback failed", zap.Error(rbErr), zap.NamedError("cause", cause))
	return domain.RollbackError(cause, rbErr)
}

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	err := s.client.DB().WithContext(ctx).Create(toAccountModel(account)).Error
	return domain.NewDatabaseError("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return findAccount(s.client.DB().WithContext(ctx), id)
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return findTransaction(s.client.DB().WithContext(ctx), id)
}

func (s *Store) ListTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	var rows []sqlTransaction
	err := s.client.DB().WithContext(ctx).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID).
		Order("created_at DESC").
		Order("seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.NewDatabaseError("list transactions", err)
	}

	trans := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := rows[i].toDomain()
		if err != nil {
			return nil, domain.NewDatabaseError("decode transaction", err)
		}
		trans = append(trans, tran)
	}
	return trans, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// gormTx 綁定在單一 GORM Transaction 上的操作
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	lockIDs := make([]uuid.UUID, len(ids))
	copy(lockIDs, ids)
	domain.SortAccountIDs(lockIDs)

	// 依排序後的 ID 逐筆加鎖，確保不同交易之間的取鎖順序一致
	accounts := make(map[uuid.UUID]*domain.Account, len(lockIDs))
	for i, id := range lockIDs {
		if i > 0 && lockIDs[i-1] == id {
			continue
		}
		var row sqlAccount
		err := t.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, domain.NewDatabaseError("lock accounts", err)
		}
		accounts[id] = row.toDomain()
	}
	return accounts, nil
}

func (t *gormTx) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	result := t.db.WithContext(ctx).
		Model(&sqlAccount{}).
		Where("id = ?", id).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return domain.NewDatabaseError("adjust balance", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.AccountError(domain.ErrAccountNotFound, id)
	}
	return nil
}

func (t *gormTx) InsertTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tran.ID == uuid.Nil {
		tran.ID = uuid.New()
	}
	row := toTransactionModel(tran)
	if err := t.db.WithContext(ctx).Create(row).Error; err != nil {
		return domain.NewDatabaseError("insert transaction", err)
	}
	tran.Sequence = row.Seq
	tran.CreatedAt = row.CreatedAt.UTC()
	tran.UpdatedAt = row.UpdatedAt.UTC()
	return nil
}

func (t *gormTx) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return findTransaction(t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (t *gormTx) UpdateTransactionReference(ctx context.Context, id uuid.UUID, refID uuid.UUID) error {
	result := t.db.WithContext(ctx).
		Model(&sqlTransaction{}).
		Where("id = ?", id).
		Update("reference_transaction_id", refID)
	if result.Error != nil {
		return domain.NewDatabaseError("update transaction reference", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.TransactionError(domain.ErrTransactionNotFound, id)
	}
	return nil
}

func findAccount(db *gorm.DB, id uuid.UUID) (*domain.Account, error) {
	var row sqlAccount
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.AccountError(domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, domain.NewDatabaseError("get account", err)
	}
	return row.toDomain(), nil
}

func findTransaction(db *gorm.DB, id uuid.UUID) (*domain.Transaction, error) {
	var row sqlTransaction
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.TransactionError(domain.ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, domain.NewDatabaseError("get transaction", err)
	}
	tran, err := row.toDomain()
	if err != nil {
		return nil, domain.NewDatabaseError("decode transaction", err)
	}
	return tran, nil
}

var _ usecase.Store = (*Store)(nil)
