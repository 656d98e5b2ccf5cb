package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// Client LedgerService 的型別化客戶端
// 錯誤為 gRPC status，可用 status.Code 判斷
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Balance GetBalance 的回應
type Balance struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

func (c *Client) CreateAccount(ctx context.Context, name string) (*domain.Account, error) {
	var out domain.Account
	if err := c.call(ctx, "CreateAccount", map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var out domain.Account
	if err := c.call(ctx, "GetAccount", map[string]any{"account_id": accountID.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var out Balance
	if err := c.call(ctx, "GetBalance", map[string]any{"account_id": accountID.String()}, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *Client) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.Transaction, error) {
	return c.transaction(ctx, "Deposit", map[string]any{
		"account_id": accountID.String(),
		"amount":     amount.String(),
	})
}

func (c *Client) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, allowNegative bool) (*domain.Transaction, error) {
	return c.transaction(ctx, "Withdraw", map[string]any{
		"account_id":     accountID.String(),
		"amount":         amount.String(),
		"allow_negative": allowNegative,
	})
}

func (c *Client) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, allowNegative bool) (*domain.Transaction, error) {
	return c.transaction(ctx, "Transfer", map[string]any{
		"from_account_id": fromID.String(),
		"to_account_id":   toID.String(),
		"amount":          amount.String(),
		"allow_negative":  allowNegative,
	})
}

func (c *Client) Refund(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return c.transaction(ctx, "Refund", map[string]any{"transaction_id": transactionID.String()})
}

func (c *Client) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return c.transaction(ctx, "GetTransaction", map[string]any{"transaction_id": transactionID.String()})
}

func (c *Client) GetHistory(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	var out struct {
		Transactions []*domain.Transaction `json:"transactions"`
	}
	if err := c.call(ctx, "GetHistory", map[string]any{"account_id": accountID.String()}, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) Reconcile(ctx context.Context, accountID uuid.UUID) (*usecase.ReconcileReport, error) {
	var out usecase.ReconcileReport
	if err := c.call(ctx, "Reconcile", map[string]any{"account_id": accountID.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) transaction(ctx context.Context, method string, req map[string]any) (*domain.Transaction, error) {
	var out domain.Transaction
	if err := c.call(ctx, method, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method string, req map[string]any, out any) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, fullMethod(method), in, resp); err != nil {
		return err
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
