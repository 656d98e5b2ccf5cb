package grpc

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// MinClientPingInterval 允許客戶端送 keepalive ping 的最短間隔
// 需小於 pkg/grpc 連線池的 ping 間隔 (10 秒)，否則 server 會以 too_many_pings 斷線
const MinClientPingInterval = 5 * time.Second

// ServerOptions 帳本 gRPC server 的共用選項: logging interceptor 與 keepalive 政策
func ServerOptions(logger *zap.Logger, extra ...grpc.ServerOption) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             MinClientPingInterval,
			PermitWithoutStream: true,
		}),
	}
	return append(opts, extra...)
}
