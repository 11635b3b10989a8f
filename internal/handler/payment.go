package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
	log      *zap.SugaredLogger
}

func NewPaymentHandler(payments *service.PaymentService, log *zap.SugaredLogger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// Ready handles POST /v1/payments/ready.
func (h *PaymentHandler) Ready(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	order, err := h.payments.Ready(c.Request().Context(), uid, req.ScheduleID, req.SeatNo)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success":      true,
		"order_no":     order.OrderNo,
		"amount_cents": order.AmountCents,
		"status":       order.Status,
	})
}

// MockSuccess handles POST /v1/payments/:orderNo/mock-success. A rejected
// confirm still answers 200 with success=false and the settled status.
func (h *PaymentHandler) MockSuccess(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	res, err := h.payments.MockSuccess(c.Request().Context(), uid, c.Param("orderNo"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}
