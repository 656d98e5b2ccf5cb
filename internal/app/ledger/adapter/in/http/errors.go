package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-refund-ledger/internal/app/ledger/domain"
)

// errorResponse 錯誤回應格式
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestError 請求格式錯誤 (在進入 usecase 之前)
type requestError struct {
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(message string) error {
	return &requestError{message: message}
}

// statusOf 將錯誤對應為 HTTP 狀態碼與錯誤代碼
func statusOf(err error) (int, string) {
	var reqErr *requestError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &reqErr):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.As(err, &fiberErr):
		return fiberErr.Code, "http_error"
	case errors.Is(err, domain.ErrInvalidAccountName):
		return fiber.StatusBadRequest, "invalid_account_name"
	case errors.Is(err, domain.ErrInvalidAmount):
		return fiber.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrUnsupportedTransactionType):
		return fiber.StatusBadRequest, "unsupported_transaction_type"
	case errors.Is(err, domain.ErrAccountNotFound):
		return fiber.StatusNotFound, "account_not_found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return fiber.StatusNotFound, "transaction_not_found"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return fiber.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrInvalidRefundTarget):
		return fiber.StatusConflict, "invalid_refund_target"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	status, code := statusOf(err)
	message := err.Error()
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("http request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		// 基礎設施錯誤不回傳細節
		message = "internal error"
	}
	return c.Status(status).JSON(errorResponse{Code: code, Message: message})
}
