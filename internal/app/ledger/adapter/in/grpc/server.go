package grpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// GrpcServer 將 gRPC 請求轉為 LedgerUseCase 呼叫
type GrpcServer struct {
	ledger *usecase.LedgerUseCase
}

func NewGrpcServer(ledger *usecase.LedgerUseCase) *GrpcServer {
	return &GrpcServer{
		ledger: ledger,
	}
}

func (s *GrpcServer) CreateAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.ledger.CreateAccount(ctx, req.GetFields()["name"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(account)
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(account)
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"account_id": accountID,
		"balance":    domain.FormatAmount(balance),
	})
}

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, err
	}
	tran, err := s.ledger.Deposit(ctx, accountID, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(tran)
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, err
	}
	tran, err := s.ledger.Withdraw(ctx, accountID, amount, operationOptions(req)...)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(tran)
}

func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fromID, err := uuidField(req, "from_account_id")
	if err != nil {
		return nil, err
	}
	toID, err := uuidField(req, "to_account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, err
	}
	tran, err := s.ledger.Transfer(ctx, fromID, toID, amount, operationOptions(req)...)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(tran)
}

func (s *GrpcServer) Refund(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	transactionID, err := uuidField(req, "transaction_id")
	if err != nil {
		return nil, err
	}
	tran, err := s.ledger.Refund(ctx, transactionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(tran)
}

func (s *GrpcServer) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	transactionID, err := uuidField(req, "transaction_id")
	if err != nil {
		return nil, err
	}
	tran, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(tran)
}

func (s *GrpcServer) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.GetHistory(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"transactions": history,
	})
}

func (s *GrpcServer) Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuidField(req, "account_id")
	if err != nil {
		return nil, err
	}
	report, err := s.ledger.Reconcile(ctx, accountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(report)
}

// uuidField 解析 UUID 欄位，格式錯誤回傳 InvalidArgument
func uuidField(req *structpb.Struct, name string) (uuid.UUID, error) {
	raw := req.GetFields()[name].GetStringValue()
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %q", name, raw)
	}
	return id, nil
}

// amountField amount 接受十進位字串 ("10.50") 或數字
func amountField(req *structpb.Struct) (decimal.Decimal, error) {
	v := req.GetFields()["amount"]
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		amount, err := decimal.NewFromString(kind.StringValue)
		if err != nil {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "invalid amount: %q", kind.StringValue)
		}
		return amount, nil
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(kind.NumberValue), nil
	default:
		return decimal.Zero, status.Error(codes.InvalidArgument, "amount is required")
	}
}

func operationOptions(req *structpb.Struct) []usecase.OperationOption {
	if req.GetFields()["allow_negative"].GetBoolValue() {
		return []usecase.OperationOption{usecase.AllowNegative()}
	}
	return nil
}

// toStruct 經由 JSON 轉為 structpb.Struct，沿用 domain 的 JSON 欄位名稱
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
