package grpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

func newTestClient(t *testing.T, logger *zap.Logger, dialOpts ...grpc.DialOption) (*Client, *grpc.ClientConn) {
	t.Helper()
	return newTestClientWithServerOptions(t, ServerOptions(logger), dialOpts...)
}

func newTestClientWithServerOptions(t *testing.T, srvOpts []grpc.ServerOption, dialOpts ...grpc.DialOption) (*Client, *grpc.ClientConn) {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	uc := usecase.NewLedgerUseCase(store)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(srvOpts...)
	RegisterLedgerServiceServer(srv, NewGrpcServer(uc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialOpts = append([]grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, dialOpts...)
	conn, err := grpc.NewClient("passthrough:///bufnet", dialOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn
}

func TestLedgerServiceScenario(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t, zap.NewNop())

	alice, err := client.CreateAccount(ctx, "Alice")
	require.NoError(t, err)
	bob, err := client.CreateAccount(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)

	deposit, err := client.Deposit(ctx, alice.ID, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeDeposit, deposit.Type)
	assert.True(t, decimal.NewFromInt(1000).Equal(deposit.Amount))

	_, err = client.Withdraw(ctx, alice.ID, decimal.NewFromInt(200), false)
	require.NoError(t, err)
	transfer, err := client.Transfer(ctx, alice.ID, bob.ID, decimal.RequireFromString("300.50"), false)
	require.NoError(t, err)

	refund, err := client.Refund(ctx, transfer.ID)
	require.NoError(t, err)
	assert.True(t, refund.Reversal)
	require.NotNil(t, refund.ReferenceTransactionID)
	assert.Equal(t, transfer.ID, *refund.ReferenceTransactionID)

	original, err := client.GetTransaction(ctx, transfer.ID)
	require.NoError(t, err)
	require.NotNil(t, original.ReferenceTransactionID)
	assert.Equal(t, refund.ID, *original.ReferenceTransactionID)

	balance, err := client.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(800).Equal(balance), "balance = %s", balance)

	history, err := client.GetHistory(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, refund.ID, history[0].ID)
	assert.Equal(t, deposit.ID, history[3].ID)

	report, err := client.Reconcile(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, report.Stored.IsZero())

	acc, err := client.GetAccount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob", acc.Name)
}

func TestLedgerServiceErrorCodes(t *testing.T) {
	ctx := context.Background()
	client, conn := newTestClient(t, zap.NewNop())

	acc, err := client.CreateAccount(ctx, "Alice")
	require.NoError(t, err)
	deposit, err := client.Deposit(ctx, acc.ID, decimal.NewFromInt(10))
	require.NoError(t, err)
	refund, err := client.Refund(ctx, deposit.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "blank name",
			call: func() error { _, err := client.CreateAccount(ctx, "  "); return err },
			want: codes.InvalidArgument,
		},
		{
			name: "zero amount",
			call: func() error { _, err := client.Deposit(ctx, acc.ID, decimal.Zero); return err },
			want: codes.InvalidArgument,
		},
		{
			name: "unknown account",
			call: func() error { _, err := client.GetBalance(ctx, uuid.New()); return err },
			want: codes.NotFound,
		},
		{
			name: "unknown transaction",
			call: func() error { _, err := client.Refund(ctx, uuid.New()); return err },
			want: codes.NotFound,
		},
		{
			name: "insufficient balance",
			call: func() error { _, err := client.Withdraw(ctx, acc.ID, decimal.NewFromInt(1000), false); return err },
			want: codes.FailedPrecondition,
		},
		{
			name: "refund a refund",
			call: func() error { _, err := client.Refund(ctx, refund.ID); return err },
			want: codes.FailedPrecondition,
		},
		{
			name: "malformed id",
			call: func() error {
				in, _ := structpb.NewStruct(map[string]any{"account_id": "nope"})
				return conn.Invoke(ctx, fullMethod("GetBalance"), in, &structpb.Struct{})
			},
			want: codes.InvalidArgument,
		},
		{
			name: "missing amount",
			call: func() error {
				in, _ := structpb.NewStruct(map[string]any{"account_id": acc.ID.String()})
				return conn.Invoke(ctx, fullMethod("Deposit"), in, &structpb.Struct{})
			},
			want: codes.InvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err), err.Error())
		})
	}
}

func TestAllowNegativeAndNumericAmount(t *testing.T) {
	ctx := context.Background()
	client, conn := newTestClient(t, zap.NewNop())

	acc, err := client.CreateAccount(ctx, "Alice")
	require.NoError(t, err)

	in, err := structpb.NewStruct(map[string]any{"account_id": acc.ID.String(), "amount": 12.5})
	require.NoError(t, err)
	require.NoError(t, conn.Invoke(ctx, fullMethod("Deposit"), in, &structpb.Struct{}))

	_, err = client.Withdraw(ctx, acc.ID, decimal.NewFromInt(20), true)
	require.NoError(t, err)

	balance, err := client.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("-7.5").Equal(balance), "balance = %s", balance)
}

func TestLoggingInterceptor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client, _ := newTestClient(t, zap.New(core))
	ctx := context.Background()

	_, err := client.CreateAccount(ctx, "Alice")
	require.NoError(t, err)
	_, err = client.GetBalance(ctx, uuid.New())
	require.Error(t, err)

	ok := logs.FilterMessage("grpc request").All()
	require.Len(t, ok, 1)
	assert.Equal(t, fullMethod("CreateAccount"), ok[0].ContextMap()["method"])

	failed := logs.FilterMessage("grpc request failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "NotFound", failed[0].ContextMap()["code"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, codes.Internal, codeOf(domain.NewDatabaseError("commit", assert.AnError)))
	assert.Equal(t, codes.Canceled, codeOf(domain.NewDatabaseError("commit", context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, codeOf(context.DeadlineExceeded))
}

// connCounter 計算 server 端建立的連線數
type connCounter struct {
	conns atomic.Int32
}

func (c *connCounter) TagRPC(ctx context.Context, _ *stats.RPCTagInfo) context.Context { return ctx }
func (c *connCounter) HandleRPC(context.Context, stats.RPCStats) {}
func (c *connCounter) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context { return ctx }
func (c *connCounter) HandleConn(_ context.Context, s stats.ConnStats) {
	if _, ok := s.(*stats.ConnBegin); ok {
		c.conns.Add(1)
	}
}

// 連線池每 10 秒 ping 一次；server 若沿用預設政策 (5 分鐘) 會在第三次 ping 後送 GOAWAY 斷線重連
func TestPooledKeepalivePingsKeepConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for several keepalive intervals")
	}
	ctx := context.Background()
	counter := &connCounter{}
	client, _ := newTestClientWithServerOptions(t,
		ServerOptions(zap.NewNop(), grpc.StatsHandler(counter)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}),
	)

	_, err := client.CreateAccount(ctx, "Alice")
	require.NoError(t, err)
	time.Sleep(35 * time.Second)
	_, err = client.CreateAccount(ctx, "Bob")
	require.NoError(t, err)

	assert.Equal(t, int32(1), counter.conns.Load())
}
