package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/broker"
	"github.com/iliyamo/concert-ticketing/internal/config"
	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/gate"
	"github.com/iliyamo/concert-ticketing/internal/handler"
	"github.com/iliyamo/concert-ticketing/internal/lock"
	"github.com/iliyamo/concert-ticketing/internal/metrics"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
	"github.com/iliyamo/concert-ticketing/internal/notify"
	"github.com/iliyamo/concert-ticketing/internal/observability"
	"github.com/iliyamo/concert-ticketing/internal/repository"
	"github.com/iliyamo/concert-ticketing/internal/router"
	"github.com/iliyamo/concert-ticketing/internal/scheduler"
	"github.com/iliyamo/concert-ticketing/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not up yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := observability.InitLogger(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db.DB, cfg.DB.MigrationsDir); err != nil {
			return err
		}
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	bk, err := broker.New(cfg.Broker, log)
	if err != nil {
		return err
	}
	defer bk.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tc := cfg.Ticketing

	// stores
	reservationRepo := repository.NewReservationRepo(db)
	guardRepo := repository.NewGuardRepo(db)
	seatRepo := repository.NewSeatRepo(db)
	outboxRepo := repository.NewOutboxRepo(db)
	dedupRepo := repository.NewDedupRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)

	// fast path
	g := gate.New(rdb)
	locker := lock.NewLocker(rdb)
	seatLocks := lock.NewSeatLocks(locker)
	advancer, err := gate.NewAdvancer(tc.AdvanceEngine, rdb)
	if err != nil {
		return err
	}
	hub := notify.NewHub(32, log)

	// services
	reservations := service.NewReservationService(reservationRepo, guardRepo, seatRepo, tc.HoldTTL, log)
	tickets := service.NewTicketService(db, reservations, seatRepo, g, seatLocks, hub, m, service.TicketConfig{
		QueueEnabled: tc.QueueEnabled,
		SeatLockTTL:  tc.SeatLockTTL,
		MaxAttempts:  tc.HoldMaxAttempts,
	}, log)
	queue := service.NewQueueService(g, service.QueueConfig{
		Enabled:  tc.QueueEnabled,
		Capacity: tc.QueueCapacity,
		PassTTL:  tc.PassTTL,
	})
	confirms := service.NewConfirmService(db, reservationRepo, outboxRepo, service.ConfirmRequestConfig{
		Topic:    cfg.Broker.ConfirmTopic,
		MaxRetry: tc.OutboxMaxRetry,
	}, log)
	publisher := service.NewOutboxPublisher(db, outboxRepo, bk, m, service.OutboxPublisherConfig{
		BatchSize:      tc.OutboxBatchSize,
		PublishTimeout: tc.OutboxPublishTimeout,
		BackoffCap:     tc.OutboxBackoffCap,
	}, log)
	consumer := service.NewConfirmConsumer(dedupRepo, reservationRepo, tickets, tc.ConfirmMaxEventAge, m, log)
	payments := service.NewPaymentService(db, paymentRepo, reservationRepo, seatRepo, tickets, log)
	seatQuery := service.NewSeatQueryService(seatRepo, reservationRepo)

	// background jobs
	sched := scheduler.New(ctx, log)
	if tc.QueueEnabled {
		job := scheduler.NewQueueAdvanceJob(locker, g, advancer, tc.QueueCapacity, tc.PassTTL, tc.AdvanceLockTTL, m, log)
		if _, err := sched.Every(tc.AdvanceInterval, job); err != nil {
			return err
		}
	}
	if _, err := sched.Every(tc.ExpireInterval, scheduler.NewHoldExpiryJob(reservations, tc.ExpireBatchSize, m, log)); err != nil {
		return err
	}
	if _, err := sched.Every(tc.OutboxInterval, scheduler.NewOutboxPublishJob(publisher, log)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bk.Consume(ctx, cfg.Broker.ConfirmTopic, consumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("confirm consumer stopped", "error", err)
		}
	}()

	// http
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	router.Register(e, router.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"mysql": handler.PingFunc(db.PingContext),
			"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}),
		Seats:   handler.NewSeatHandler(seatQuery, hub, log),
		Queue:   handler.NewQueueHandler(queue, log),
		Tickets: handler.NewTicketHandler(tickets, confirms, reservations, log),
		Payment: handler.NewPaymentHandler(payments, log),
		Admin:   handler.NewAdminHandler(confirms, log),
	}, router.Middlewares{
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log),
	}, reg, cfg.JWTSecret)

	srvErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Infow("listening", "addr", addr, "env", cfg.Env, "broker", cfg.Broker.Driver, "advance_engine", advancer.Name())
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err := <-srvErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	stop()
	wg.Wait()
	return nil
}
