package mysql

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        uuid.UUID       `gorm:"primaryKey;type:char(36)"`
	Name      string          `gorm:"type:varchar(100);not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt time.Time       `gorm:"type:datetime(6)"`
	UpdatedAt time.Time       `gorm:"type:datetime(6)"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表
// Seq 為自增主鍵 (插入順序)，對外的 ID 為 UUID
type sqlTransaction struct {
	Seq                    uint64          `gorm:"column:seq;primaryKey;autoIncrement"`
	ID                     uuid.UUID       `gorm:"column:id;type:char(36);uniqueIndex;not null"`
	FromAccountID          *uuid.UUID      `gorm:"type:char(36);index"`
	ToAccountID            *uuid.UUID      `gorm:"type:char(36);index"`
	Type                   string          `gorm:"type:varchar(20);not null;index"`
	Amount                 decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	ReferenceTransactionID *uuid.UUID      `gorm:"type:char(36);index"`
	Reversal               bool            `gorm:"not null;default:false"`
	CreatedAt              time.Time       `gorm:"type:datetime(6);index"`
	UpdatedAt              time.Time       `gorm:"type:datetime(6)"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

func toAccountModel(acc *domain.Account) *sqlAccount {
	return &sqlAccount{
		ID:        acc.ID,
		Name:      acc.Name,
		Balance:   acc.Balance,
		CreatedAt: acc.CreatedAt,
		UpdatedAt: acc.UpdatedAt,
	}
}

func (m *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:        m.ID,
		Name:      m.Name,
		Balance:   m.Balance,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toTransactionModel(tran *domain.Transaction) *sqlTransaction {
	return &sqlTransaction{
		ID:                     tran.ID,
		FromAccountID:          tran.FromAccountID,
		ToAccountID:            tran.ToAccountID,
		Type:                   tran.Type.String(),
		Amount:                 tran.Amount,
		ReferenceTransactionID: tran.ReferenceTransactionID,
		Reversal:               tran.Reversal,
	}
}

func (m *sqlTransaction) toDomain() (*domain.Transaction, error) {
	tranType, err := domain.ParseTransactionType(m.Type)
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		ID:                     m.ID,
		FromAccountID:          m.FromAccountID,
		ToAccountID:            m.ToAccountID,
		Type:                   tranType,
		Amount:                 m.Amount,
		ReferenceTransactionID: m.ReferenceTransactionID,
		Reversal:               m.Reversal,
		Sequence:               m.Seq,
		CreatedAt:              m.CreatedAt.UTC(),
		UpdatedAt:              m.UpdatedAt.UTC(),
	}, nil
}
