// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/concert-ticketing/internal/handler"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// Handlers collects everything the routes dispatch to.
type Handlers struct {
	Health  *handler.HealthHandler
	Seats   *handler.SeatHandler
	Queue   *handler.QueueHandler
	Tickets *handler.TicketHandler
	Payment *handler.PaymentHandler
	Admin   *handler.AdminHandler
}

// Middlewares are built in main from config so the router stays free of
// Redis and config dependencies.
type Middlewares struct {
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// RegisterPublic mounts the unauthenticated endpoints.
func RegisterPublic(e *echo.Echo, h Handlers, mw Middlewares, gatherer prometheus.Gatherer) {
	e.GET("/healthz", h.Health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := e.Group("/v1/schedules/:id")
	g.GET("/seats", h.Seats.Status)
	g.GET("/seats/layout", h.Seats.Layout, mw.Cache)
	g.GET("/seats/stream", h.Seats.Stream)
}

// RegisterCustomer mounts the purchase flow. Every route needs a CUSTOMER
// token and is rate limited per user and route.
func RegisterCustomer(e *echo.Echo, h Handlers, mw Middlewares, jwtSecret string) {
	g := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(RoleCustomer),
		mw.RateLimit,
	)
	g.POST("/queue/enter", h.Queue.Enter)
	g.GET("/queue/status", h.Queue.Status)

	g.POST("/tickets/hold", h.Tickets.Hold)
	g.POST("/tickets/release", h.Tickets.Release)
	g.POST("/tickets/confirm", h.Tickets.Confirm)
	g.POST("/tickets/confirm-request", h.Tickets.ConfirmRequest)
	g.GET("/reservations/me", h.Tickets.MyReservations)

	g.POST("/payments/ready", h.Payment.Ready)
	g.POST("/payments/:orderNo/mock-success", h.Payment.MockSuccess)
}

// RegisterAdmin mounts operator endpoints.
func RegisterAdmin(e *echo.Echo, h Handlers, jwtSecret string) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(RoleAdmin),
	)
	g.GET("/outbox/failed", h.Admin.FailedOutbox)
	g.POST("/outbox/:id/requeue", h.Admin.Requeue)
}

// Register mounts every group.
func Register(e *echo.Echo, h Handlers, mw Middlewares, gatherer prometheus.Gatherer, jwtSecret string) {
	if mw.RateLimit == nil {
		mw.RateLimit = passThrough
	}
	if mw.Cache == nil {
		mw.Cache = passThrough
	}
	RegisterPublic(e, h, mw, gatherer)
	RegisterCustomer(e, h, mw, jwtSecret)
	RegisterAdmin(e, h, jwtSecret)
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
