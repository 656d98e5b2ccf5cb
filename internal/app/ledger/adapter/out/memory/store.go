package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-refund-ledger/pkg/wal"
)

// Store 是一個記憶體帳本
//
// 結構:
//
//	accounts / transactions: 已 commit 的資料，由 mu 保護
//	byAccount: 帳戶 -> 相關交易 ID 索引
//	locks: 以帳戶/交易 ID 為單位的鎖，範圍結束時釋放
//	wal: Write-Ahead Log 實例 (可為 nil)
type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	transactions map[uuid.UUID]*domain.Transaction
	byAccount    map[uuid.UUID][]uuid.UUID
	sequence     uint64

	locks *keyLocks
	wal   *wal.WAL
	now   func() time.Time
}

// walRecord 一次 commit 的內容，重放時依序套用
type walRecord struct {
	Accounts     []*domain.Account          `json:"accounts,omitempty"`
	Adjustments  []domain.BalanceAdjustment `json:"adjustments,omitempty"`
	Transactions []*domain.Transaction      `json:"transactions,omitempty"`
	References   []referenceUpdate          `json:"references,omitempty"`
	CommittedAt  time.Time                  `json:"committed_at"`
}

type referenceUpdate struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ReferenceID   uuid.UUID `json:"reference_id"`
}

// NewStore 建立一個新的記憶體帳本，wal 不為 nil 時先從 WAL 恢復狀態
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 表示不持久化
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(w *wal.WAL) (*Store, error) {
	s := &Store{
		accounts:     make(map[uuid.UUID]*domain.Account),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byAccount:    make(map[uuid.UUID][]uuid.UUID),
		locks:        newKeyLocks(),
		wal:          w,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		return s.apply(&rec)
	})
}

// apply 將一次 commit 套用至記憶體，呼叫端需持有寫鎖
func (s *Store) apply(rec *walRecord) error {
	for _, acc := range rec.Accounts {
		cp := *acc
		s.accounts[acc.ID] = &cp
	}
	for _, adj := range rec.Adjustments {
		acc, ok := s.accounts[adj.AccountID]
		if !ok {
			return domain.AccountError(domain.ErrAccountNotFound, adj.AccountID)
		}
		acc.Balance = acc.Balance.Add(adj.Delta)
		acc.UpdatedAt = rec.CommittedAt
	}
	for _, tran := range rec.Transactions {
		s.transactions[tran.ID] = copyTransaction(tran)
		for _, id := range tran.AccountIDs() {
			s.byAccount[id] = append(s.byAccount[id], tran.ID)
		}
		if tran.Sequence > s.sequence {
			s.sequence = tran.Sequence
		}
	}
	for _, ref := range rec.References {
		tran, ok := s.transactions[ref.TransactionID]
		if !ok {
			return domain.TransactionError(domain.ErrTransactionNotFound, ref.TransactionID)
		}
		refID := ref.ReferenceID
		tran.ReferenceTransactionID = &refID
		tran.UpdatedAt = rec.CommittedAt
	}
	return nil
}

// commit 寫入 WAL 後套用
func (s *Store) commit(rec *walRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(rec)
}

// commitLocked 呼叫端需持有寫鎖
func (s *Store) commitLocked(rec *walRecord) error {
	rec.CommittedAt = s.now()
	for _, tran := range rec.Transactions {
		s.sequence++
		tran.Sequence = s.sequence
	}
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			// 序號尚未被使用，退回
			s.sequence -= uint64(len(rec.Transactions))
			return domain.NewDatabaseError("write wal", err)
		}
	}
	return s.apply(rec)
}

// CreateAccount 寫入新帳戶
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return domain.NewDatabaseError("create account", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return domain.NewDatabaseError("create account", fmt.Errorf("duplicate account id %s", account.ID))
	}
	cp := *account
	return s.commitLocked(&walRecord{Accounts: []*domain.Account{&cp}})
}

// GetAccount 取得帳戶
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.AccountError(domain.ErrAccountNotFound, id)
	}
	cp := *acc
	return &cp, nil
}

// GetTransaction 取得交易
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tran, ok := s.transactions[id]
	if !ok {
		return nil, domain.TransactionError(domain.ErrTransactionNotFound, id)
	}
	return copyTransaction(tran), nil
}

// ListTransactionsForAccount 回傳帳戶相關交易的快照，created_at DESC, sequence DESC
func (s *Store) ListTransactionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	s.mu.RLock()
	ids := s.byAccount[accountID]
	history := make([]*domain.Transaction, 0, len(ids))
	for _, id := range ids {
		history = append(history, copyTransaction(s.transactions[id]))
	}
	s.mu.RUnlock()

	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return history[i].CreatedAt.After(history[j].CreatedAt)
		}
		return history[i].Sequence > history[j].Sequence
	})
	return history, nil
}

// WithinTx 在單一範圍內執行 fn，fn 成功且 ctx 未取消才 commit
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	tx := &memTx{store: s, held: make(map[uuid.UUID]struct{})}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewDatabaseError("commit", err)
	}
	return s.commit(&tx.pending)
}

// Close 關閉 WAL
func (s *Store) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}

// memTx 範圍內的暫存寫入，commit 前對其他範圍不可見
type memTx struct {
	store   *Store
	held    map[uuid.UUID]struct{}
	order   []uuid.UUID
	pending walRecord
}

func (tx *memTx) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	if err := tx.store.locks.acquire(ctx, id); err != nil {
		return domain.NewDatabaseError("lock", err)
	}
	tx.held[id] = struct{}{}
	tx.order = append(tx.order, id)
	return nil
}

func (tx *memTx) releaseAll() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.store.locks.release(tx.order[i])
	}
	tx.order = nil
	tx.held = nil
}

// LockAccounts 依 ID 排序後逐一上鎖並讀取 (含本範圍尚未 commit 的調整)
func (tx *memTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	domain.SortAccountIDs(sorted)

	accounts := make(map[uuid.UUID]*domain.Account, len(sorted))
	for _, id := range sorted {
		if err := tx.lock(ctx, id); err != nil {
			return nil, err
		}
		acc, err := tx.store.GetAccount(ctx, id)
		if err != nil {
			continue
		}
		acc.Balance = acc.Balance.Add(tx.pendingDelta(id))
		accounts[id] = acc
	}
	return accounts, nil
}

func (tx *memTx) pendingDelta(id uuid.UUID) decimal.Decimal {
	delta := decimal.Zero
	for _, adj := range tx.pending.Adjustments {
		if adj.AccountID == id {
			delta = delta.Add(adj.Delta)
		}
	}
	return delta
}

// AdjustBalance 暫存相對調整，commit 時才套用
func (tx *memTx) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	if err := tx.lock(ctx, id); err != nil {
		return err
	}
	if _, err := tx.store.GetAccount(ctx, id); err != nil {
		return err
	}
	tx.pending.Adjustments = append(tx.pending.Adjustments, domain.BalanceAdjustment{AccountID: id, Delta: delta})
	return nil
}

// InsertTransaction 分配 ID 與時間戳，Sequence 於 commit 時分配
func (tx *memTx) InsertTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tran.ID == uuid.Nil {
		tran.ID = uuid.New()
	}
	now := tx.store.now()
	tran.CreatedAt = now
	tran.UpdatedAt = now
	tx.pending.Transactions = append(tx.pending.Transactions, tran)
	return nil
}

// GetTransaction 鎖定並讀取交易
func (tx *memTx) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if err := tx.lock(ctx, id); err != nil {
		return nil, err
	}
	for _, tran := range tx.pending.Transactions {
		if tran.ID == id {
			return tx.withPendingReference(copyTransaction(tran)), nil
		}
	}
	tran, err := tx.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return tx.withPendingReference(tran), nil
}

func (tx *memTx) withPendingReference(tran *domain.Transaction) *domain.Transaction {
	for _, ref := range tx.pending.References {
		if ref.TransactionID == tran.ID {
			refID := ref.ReferenceID
			tran.ReferenceTransactionID = &refID
		}
	}
	return tran
}

// UpdateTransactionReference 暫存回填原交易的 reference_transaction_id
func (tx *memTx) UpdateTransactionReference(ctx context.Context, id uuid.UUID, refID uuid.UUID) error {
	if _, err := tx.GetTransaction(ctx, id); err != nil {
		return err
	}
	tx.pending.References = append(tx.pending.References, referenceUpdate{TransactionID: id, ReferenceID: refID})
	return nil
}

func copyTransaction(tran *domain.Transaction) *domain.Transaction {
	cp := *tran
	if tran.FromAccountID != nil {
		id := *tran.FromAccountID
		cp.FromAccountID = &id
	}
	if tran.ToAccountID != nil {
		id := *tran.ToAccountID
		cp.ToAccountID = &id
	}
	if tran.ReferenceTransactionID != nil {
		id := *tran.ReferenceTransactionID
		cp.ReferenceTransactionID = &id
	}
	return &cp
}

var _ usecase.Store = (*Store)(nil)
