package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/service"
)

// TicketHandler exposes hold/release/confirm and the async confirm request.
type TicketHandler struct {
	tickets      *service.TicketService
	confirms     *service.ConfirmService
	reservations *service.ReservationService
	log          *zap.SugaredLogger
}

func NewTicketHandler(tickets *service.TicketService, confirms *service.ConfirmService, reservations *service.ReservationService, log *zap.SugaredLogger) *TicketHandler {
	return &TicketHandler{tickets: tickets, confirms: confirms, reservations: reservations, log: log}
}

// seatRequest addresses one seat either by label or by catalog id.
type seatRequest struct {
	ScheduleID uint64 `json:"schedule_id" validate:"required"`
	SeatNo     string `json:"seat_no" validate:"required_without=SeatID,max=20"`
	SeatID     uint64 `json:"seat_id"`
	QueueToken string `json:"queue_token" validate:"max=128"`
}

// Hold handles POST /v1/tickets/hold. The queue token may also be sent in
// the X-Queue-Token header.
func (h *TicketHandler) Hold(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	if req.QueueToken == "" {
		req.QueueToken = c.Request().Header.Get("X-Queue-Token")
	}
	ctx := c.Request().Context()

	var res service.Result
	if req.SeatNo == "" && req.SeatID > 0 {
		res, err = h.tickets.HoldSeatBySeatID(ctx, req.ScheduleID, req.SeatID, uid, req.QueueToken)
	} else {
		res, err = h.tickets.HoldSeat(ctx, service.HoldRequest{
			ScheduleID: req.ScheduleID,
			UserID:     uid,
			SeatNo:     req.SeatNo,
			QueueToken: req.QueueToken,
		})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Release handles POST /v1/tickets/release.
func (h *TicketHandler) Release(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	res, err := h.tickets.ReleaseSeat(c.Request().Context(), req.ScheduleID, req.SeatNo, uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Confirm handles POST /v1/tickets/confirm, the synchronous path.
func (h *TicketHandler) Confirm(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	res, err := h.tickets.ConfirmSeat(c.Request().Context(), req.ScheduleID, req.SeatNo, uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ConfirmRequest handles POST /v1/tickets/confirm-request. The intent is
// stored and 202 returned; the seat is confirmed asynchronously.
func (h *TicketHandler) ConfirmRequest(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	eventID, err := h.confirms.RequestConfirm(c.Request().Context(), req.ScheduleID, req.SeatNo, uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"success": true, "message": "confirm requested", "event_id": eventID})
}

// MyReservations handles GET /v1/reservations/me.
func (h *TicketHandler) MyReservations(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil || limit < 1 {
			return respondError(c, h.log, apperr.Invalid("invalid limit"))
		}
	}
	items, err := h.reservations.ListByUser(c.Request().Context(), uid, limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
