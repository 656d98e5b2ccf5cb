package postgres

// schema 依序執行，皆可重複執行
// 金額與餘額使用 DECIMAL(12, 2)；seq 為同一時間戳內的插入順序
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		balance DECIMAL(12, 2) NOT NULL DEFAULT 0.00,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL UNIQUE,
		from_account_id UUID REFERENCES accounts(id),
		to_account_id UUID REFERENCES accounts(id),
		type VARCHAR(20) NOT NULL CHECK (type IN ('deposit', 'withdrawal', 'transfer', 'refund')),
		amount DECIMAL(12, 2) NOT NULL CHECK (amount > 0),
		reference_transaction_id UUID REFERENCES transactions(id),
		reversal BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from_account_id ON transactions(from_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_account_id ON transactions(to_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_type ON transactions(type)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_reference_transaction_id ON transactions(reference_transaction_id)`,
}
