package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/service"
)

type QueueHandler struct {
	queue *service.QueueService
	log   *zap.SugaredLogger
}

func NewQueueHandler(queue *service.QueueService, log *zap.SugaredLogger) *QueueHandler {
	return &QueueHandler{queue: queue, log: log}
}

// Enter handles POST /v1/queue/enter {"schedule_id": n}.
func (h *QueueHandler) Enter(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	var req struct {
		ScheduleID uint64 `json:"schedule_id" validate:"required"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}
	st, err := h.queue.Enter(c.Request().Context(), req.ScheduleID, uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Status handles GET /v1/queue/status?schedule_id=n. Clients poll it until
// can_enter is true and then use the returned token.
func (h *QueueHandler) Status(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return err
	}
	sid, err := queryID(c, "schedule_id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	st, err := h.queue.Status(c.Request().Context(), sid, uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, st)
}
