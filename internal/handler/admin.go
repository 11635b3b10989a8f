package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/service"
)

// AdminHandler gives operators a view on outbox events that ran out of
// retries.
type AdminHandler struct {
	confirms *service.ConfirmService
	log      *zap.SugaredLogger
}

func NewAdminHandler(confirms *service.ConfirmService, log *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{confirms: confirms, log: log}
}

// FailedOutbox handles GET /v1/admin/outbox/failed?limit=n.
func (h *AdminHandler) FailedOutbox(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.confirms.ListFailed(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Requeue handles POST /v1/admin/outbox/:id/requeue.
func (h *AdminHandler) Requeue(c echo.Context) error {
	if err := h.confirms.Requeue(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "requeued"})
}
