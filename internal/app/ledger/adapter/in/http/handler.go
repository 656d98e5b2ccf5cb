package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/usecase"
)

// Handler REST 介面，掛在 /v1 之下
type Handler struct {
	ledger *usecase.LedgerUseCase
	logger *zap.Logger
}

func NewHandler(ledger *usecase.LedgerUseCase, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, logger: logger}
}

// NewApp 建立 fiber.App 並註冊路由
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "refund-ledger",
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	h.Register(app.Group("/v1"))
	return app
}

// Register 註冊路由
func (h *Handler) Register(r fiber.Router) {
	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/:id", h.GetAccount)
	r.Get("/accounts/:id/balance", h.GetBalance)
	r.Get("/accounts/:id/transactions", h.GetHistory)
	r.Get("/accounts/:id/reconcile", h.Reconcile)
	r.Post("/accounts/:id/deposit", h.Deposit)
	r.Post("/accounts/:id/withdraw", h.Withdraw)
	r.Post("/transfers", h.Transfer)
	r.Get("/transactions/:id", h.GetTransaction)
	r.Post("/transactions/:id/refund", h.Refund)
}

type createAccountRequest struct {
	Name string `json:"name"`
}

type amountRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	AllowNegative bool            `json:"allow_negative"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	AllowNegative bool            `json:"allow_negative"`
}

func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	account, err := h.ledger.CreateAccount(c.UserContext(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (h *Handler) GetAccount(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	account, err := h.ledger.GetAccount(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

func (h *Handler) GetBalance(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	balance, err := h.ledger.GetBalance(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"account_id": accountID,
		"balance":    domain.FormatAmount(balance),
	})
}

func (h *Handler) GetHistory(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	history, err := h.ledger.GetHistory(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": history})
}

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	report, err := h.ledger.Reconcile(c.UserContext(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (h *Handler) Deposit(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	tran, err := h.ledger.Deposit(c.UserContext(), accountID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tran)
}

func (h *Handler) Withdraw(c *fiber.Ctx) error {
	accountID, err := pathID(c, "account id")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	tran, err := h.ledger.Withdraw(c.UserContext(), accountID, req.Amount, operationOptions(req.AllowNegative)...)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tran)
}

func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		return badRequest("invalid from_account_id")
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		return badRequest("invalid to_account_id")
	}
	tran, err := h.ledger.Transfer(c.UserContext(), fromID, toID, req.Amount, operationOptions(req.AllowNegative)...)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tran)
}

func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	transactionID, err := pathID(c, "transaction id")
	if err != nil {
		return err
	}
	tran, err := h.ledger.GetTransaction(c.UserContext(), transactionID)
	if err != nil {
		return err
	}
	return c.JSON(tran)
}

func (h *Handler) Refund(c *fiber.Ctx) error {
	transactionID, err := pathID(c, "transaction id")
	if err != nil {
		return err
	}
	tran, err := h.ledger.Refund(c.UserContext(), transactionID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tran)
}

func pathID(c *fiber.Ctx, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + what)
	}
	return id, nil
}

func operationOptions(allowNegative bool) []usecase.OperationOption {
	if allowNegative {
		return []usecase.OperationOption{usecase.AllowNegative()}
	}
	return nil
}
