package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/in/grpc"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/pkg/logger"
	grpcpool "github.com/JoeShih716/go-refund-ledger/pkg/grpc"
)

const usage = `usage: ledgerctl [flags] <command> [args]

commands:
  scenario               run the deposit / transfer / refund walkthrough
  balance <account_id>   print the balance of an account
  history <account_id>   print the transactions of an account, newest first
  refund <transaction_id>
`

func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	zlog, err := logger.New(logger.Config{Level: "info", Format: "console"})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	pool := grpcpool.NewPool(grpcpool.WithInterceptor(timeoutInterceptor(*timeout)))
	defer pool.Close()

	conn, err := pool.GetConnection(*addr)
	if err != nil {
		zlog.Fatal("did not connect", zap.Error(err))
	}
	client := grpc_adapter.NewClient(conn)
	ctx := context.Background()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"scenario"}
	}

	switch args[0] {
	case "scenario":
		err = runScenario(ctx, client, zlog)
	case "balance":
		err = withID(args, func(id uuid.UUID) error {
			balance, err := client.GetBalance(ctx, id)
			if err == nil {
				fmt.Println(balance.StringFixed(domain.AmountScale))
			}
			return err
		})
	case "history":
		err = withID(args, func(id uuid.UUID) error {
			history, err := client.GetHistory(ctx, id)
			for _, tran := range history {
				printTransaction(tran)
			}
			return err
		})
	case "refund":
		err = withID(args, func(id uuid.UUID) error {
			tran, err := client.Refund(ctx, id)
			if err == nil {
				printTransaction(tran)
			}
			return err
		})
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		zlog.Fatal("command failed", zap.String("command", args[0]), zap.String("code", status.Code(err).String()), zap.Error(err))
	}
}

// runScenario 建立兩個帳戶並走過存款、提款、轉帳、退款，最後驗證餘額
func runScenario(ctx context.Context, client *grpc_adapter.Client, zlog *zap.Logger) error {
	a, err := client.CreateAccount(ctx, "Account A")
	if err != nil {
		return err
	}
	b, err := client.CreateAccount(ctx, "Account B")
	if err != nil {
		return err
	}
	zlog.Info("accounts created", zap.String("a", a.ID.String()), zap.String("b", b.ID.String()))

	steps := []struct {
		name string
		run  func() (*domain.Transaction, error)
	}{
		{"deposit A 500", func() (*domain.Transaction, error) { return client.Deposit(ctx, a.ID, decimal.NewFromInt(500)) }},
		{"deposit B 300", func() (*domain.Transaction, error) { return client.Deposit(ctx, b.ID, decimal.NewFromInt(300)) }},
		{"withdraw A 150", func() (*domain.Transaction, error) {
			return client.Withdraw(ctx, a.ID, decimal.NewFromInt(150), false)
		}},
	}
	for _, step := range steps {
		tran, err := step.run()
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		zlog.Info(step.name, zap.String("transaction_id", tran.ID.String()))
	}

	transfer, err := client.Transfer(ctx, a.ID, b.ID, decimal.NewFromInt(100), false)
	if err != nil {
		return fmt.Errorf("transfer A->B 100: %w", err)
	}
	zlog.Info("transfer A->B 100", zap.String("transaction_id", transfer.ID.String()))

	refund, err := client.Refund(ctx, transfer.ID)
	if err != nil {
		return fmt.Errorf("refund transfer: %w", err)
	}
	zlog.Info("refund", zap.String("transaction_id", refund.ID.String()), zap.String("refunds", transfer.ID.String()))

	_, err = client.Refund(ctx, refund.ID)
	if status.Code(err) != codes.FailedPrecondition {
		return fmt.Errorf("refund of a refund: expected FailedPrecondition, got %v", err)
	}
	zlog.Info("refund of a refund rejected", zap.Error(err))

	if _, err := client.Withdraw(ctx, b.ID, decimal.NewFromInt(50), false); err != nil {
		return fmt.Errorf("withdraw B 50: %w", err)
	}

	return expectBalances(ctx, client, zlog, map[uuid.UUID]decimal.Decimal{
		a.ID: decimal.NewFromInt(350),
		b.ID: decimal.NewFromInt(250),
	})
}

func expectBalances(ctx context.Context, client *grpc_adapter.Client, zlog *zap.Logger, want map[uuid.UUID]decimal.Decimal) error {
	var errs []error
	for id, expected := range want {
		balance, err := client.GetBalance(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !balance.Equal(expected) {
			errs = append(errs, fmt.Errorf("account %s: balance %s, want %s", id, balance, expected))
			continue
		}
		zlog.Info("balance ok", zap.String("account_id", id.String()), zap.String("balance", balance.StringFixed(domain.AmountScale)))
	}
	return errors.Join(errs...)
}

func withID(args []string, fn func(id uuid.UUID) error) error {
	if len(args) != 2 {
		return fmt.Errorf("%s requires exactly one id", args[0])
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	return fn(id)
}

func printTransaction(tran *domain.Transaction) {
	side := func(id *uuid.UUID) string {
		if id == nil {
			return "-"
		}
		return id.String()
	}
	fmt.Printf("%s  %-10s %12s  from=%s to=%s  ref=%s  at=%s\n",
		tran.ID,
		tran.Type,
		tran.Amount.StringFixed(domain.AmountScale),
		side(tran.FromAccountID),
		side(tran.ToAccountID),
		side(tran.ReferenceTransactionID),
		tran.CreatedAt.Format(time.RFC3339),
	)
}

// timeoutInterceptor 為沒有 deadline 的呼叫加上逾時
func timeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
