package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/notify"
	"github.com/iliyamo/concert-ticketing/internal/service"
)

const ssePingInterval = 15 * time.Second

// SeatHandler serves the seat map and its live change stream.
type SeatHandler struct {
	seats *service.SeatQueryService
	hub   *notify.Hub
	log   *zap.SugaredLogger
}

func NewSeatHandler(seats *service.SeatQueryService, hub *notify.Hub, log *zap.SugaredLogger) *SeatHandler {
	return &SeatHandler{seats: seats, hub: hub, log: log}
}

// Status handles GET /v1/schedules/:id/seats.
func (h *SeatHandler) Status(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	items, err := h.seats.Status(c.Request().Context(), sid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": sid, "seats": items})
}

// Layout handles GET /v1/schedules/:id/seats/layout. The response is
// cacheable; it carries no occupancy.
func (h *SeatHandler) Layout(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	items, err := h.seats.Layout(c.Request().Context(), sid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": sid, "seats": items})
}

// Stream handles GET /v1/schedules/:id/seats/stream as Server-Sent Events.
// Each committed seat change is sent as a "seat" event; a comment line
// every 15s keeps proxies from closing an idle connection.
func (h *SeatHandler) Stream(c echo.Context) error {
	sid, err := pathID(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	w := c.Response()
	hdr := w.Header()
	hdr.Set(echo.HeaderContentType, "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client, unsubscribe := h.hub.Subscribe(sid)
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	w.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-client.Send:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warnw("encode seat event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: seat\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
