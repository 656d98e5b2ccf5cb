package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// DefaultBalanceTTL 快取的存活時間，寫入端失效失敗時的上限
const DefaultBalanceTTL = 30 * time.Second

// BalanceCache 以 Redis 字串快取帳戶餘額
// key 格式: {prefix}balance:{account_id}，值為 decimal 字串
type BalanceCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewBalanceCache 建立餘額快取
//
// 參數:
//
//	rdb: Redis 客戶端
//	prefix: key 前綴，例如 "ledger:"
//	ttl: 存活時間，<= 0 時使用 DefaultBalanceTTL
func NewBalanceCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	return &BalanceCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *BalanceCache) key(accountID uuid.UUID) string {
	return c.prefix + "balance:" + accountID.String()
}

func (c *BalanceCache) Get(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get cached balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("decode cached balance %q: %w", raw, err)
	}
	return balance, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	if err := c.rdb.Set(ctx, c.key(accountID), balance.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached balance: %w", err)
	}
	return nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, accountIDs ...uuid.UUID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = c.key(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cached balance: %w", err)
	}
	return nil
}

var _ usecase.BalanceCache = (*BalanceCache)(nil)
