package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/in/http"
	kafka_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/redis"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
	"github.com/JoeShih716/go-refund-ledger/internal/config"
	"github.com/JoeShih716/go-refund-ledger/pkg/logger"
	"github.com/JoeShih716/go-refund-ledger/pkg/mysql"
	"github.com/JoeShih716/go-refund-ledger/pkg/postgres"
	"github.com/JoeShih716/go-refund-ledger/pkg/redis"
	"github.com/JoeShih716/go-refund-ledger/pkg/wal"
)

func main() {
	// 1. 載入設定
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Error("ledger exited with error", zap.Error(err))
		os.Exit(1)
	}
	zlog.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	// 2. 初始化儲存層 (Driven Adapter)
	store, err := openStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			zlog.Warn("failed to close store", zap.Error(err))
		}
	}()

	// 3. 可選的快取與事件發佈
	opts := []usecase.Option{usecase.WithLogger(zlog)}
	var publishers usecase.MultiPublisher

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, usecase.WithBalanceCache(redis_adapter.NewBalanceCache(rdb, cfg.Redis.KeyPrefix, cfg.Redis.CacheTTL)))
		if cfg.Redis.Channel != "" {
			publishers = append(publishers, redis_adapter.NewEventPublisher(rdb, cfg.Redis.Channel))
		}
		zlog.Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Kafka.Enabled() {
		kafkaPublisher := kafka_adapter.NewEventPublisher(cfg.Kafka.Config, zlog.Named("kafka"))
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				zlog.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		publishers = append(publishers, kafkaPublisher)
		zlog.Info("kafka enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if len(publishers) > 0 {
		opts = append(opts, usecase.WithEventPublisher(publishers))
	}

	// 4. 初始化 UseCase
	ledger := usecase.NewLedgerUseCase(store, opts...)
	defer func() {
		// 先送完排入的事件，再關閉 publisher
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := ledger.Close(closeCtx); err != nil {
			zlog.Warn("pending events not published before shutdown", zap.Error(err))
		}
	}()

	// 5. 啟動 Driving Adapters
	g, gctx := errgroup.WithContext(ctx)

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
		}
		s := grpc.NewServer(grpc_adapter.ServerOptions(zlog.Named("grpc"))...)
		grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(ledger))
		reflection.Register(s) // 方便 grpcurl 等工具測試

		g.Go(func() error {
			zlog.Info("starting grpc server", zap.String("addr", cfg.GRPC.Addr))
			if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			gracefulStop(s, cfg.ShutdownTimeout)
			return nil
		})
	}

	if cfg.HTTP.Addr != "" {
		app := http_adapter.NewApp(http_adapter.NewHandler(ledger, zlog.Named("http")))

		g.Go(func() error {
			zlog.Info("starting http server", zap.String("addr", cfg.HTTP.Addr))
			if err := app.Listen(cfg.HTTP.Addr); err != nil {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
		})
	}

	// Wait for interrupt
	<-gctx.Done()
	zlog.Info("shutting down server...")
	return g.Wait()
}

// openStore 依 driver 建立儲存層
func openStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (usecase.Store, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		isolation, err := mysql_adapter.ParseIsolation(cfg.Isolation)
		if err != nil {
			return nil, err
		}
		client, err := mysql.NewClient(ctx, cfg.MySQL, zlog.Named("mysql"))
		if err != nil {
			return nil, err
		}
		store := mysql_adapter.NewStore(client, mysql_adapter.WithIsolation(isolation), mysql_adapter.WithLogger(zlog.Named("mysql")))
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		zlog.Info("connected to mysql", zap.String("host", cfg.MySQL.Host), zap.String("db", cfg.MySQL.DBName))
		return store, nil

	case config.DriverPostgres:
		isolation, err := postgres_adapter.ParseIsolation(cfg.Isolation)
		if err != nil {
			return nil, err
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres, zlog.Named("postgres"))
		if err != nil {
			return nil, err
		}
		store := postgres_adapter.NewStore(pool, postgres_adapter.WithIsolation(isolation), postgres_adapter.WithLogger(zlog.Named("postgres")))
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		zlog.Info("connected to postgres")
		return store, nil

	default:
		var w *wal.WAL
		if cfg.Memory.WALPath != "" {
			var err error
			if w, err = wal.Open(cfg.Memory.WALPath); err != nil {
				return nil, fmt.Errorf("failed to open wal: %w", err)
			}
		}
		store, err := memory_adapter.NewStore(w)
		if err != nil {
			if w != nil {
				_ = w.Close()
			}
			return nil, err
		}
		zlog.Info("using memory store", zap.String("wal", cfg.Memory.WALPath))
		return store, nil
	}
}

// gracefulStop 等待進行中的請求完成，逾時則強制關閉
func gracefulStop(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
