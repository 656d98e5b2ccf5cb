package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NewPool 建立 pgxpool 連線池，失敗時以指數退避重試
//
// 參數:
//
//	ctx: 取消時停止重試
//	cfg: Config - 連線配置
//	log: 重試過程的 logger
//
// 回傳值:
//
//	*pgxpool.Pool: 已通過 Ping 的連線池
//	error: 設定錯誤或重試耗盡
func NewPool(ctx context.Context, cfg Config, log *zap.Logger) (*pgxpool.Pool, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	delay := cfg.RetryInterval
	for i := 1; i <= cfg.ConnectRetries; i++ {
		var pool *pgxpool.Pool
		pool, err = connect(ctx, poolConfig, cfg.ConnectTimeout)
		if err == nil {
			return pool, nil
		}

		if i < cfg.ConnectRetries {
			log.Warn("failed to connect to postgres, retrying",
				zap.Int("attempt", i),
				zap.Int("max_attempts", cfg.ConnectRetries),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("postgres connect canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.ConnectRetries, err)
}

func connect(ctx context.Context, poolConfig *pgxpool.Config, timeout time.Duration) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return pool, nil
}
