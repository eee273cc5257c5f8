package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/adapters"
	"github.com/giftwell/giftwell/services/reserve/internal/app"
	"github.com/giftwell/giftwell/services/reserve/internal/clock"
	"github.com/giftwell/giftwell/services/reserve/internal/config"
	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	kafkax "github.com/giftwell/giftwell/services/reserve/internal/kafka"
	"github.com/giftwell/giftwell/services/reserve/internal/storage/memory"
	"github.com/giftwell/giftwell/services/reserve/internal/storage/postgres"
	"github.com/giftwell/giftwell/services/reserve/internal/storage/redisstore"
	transporthttp "github.com/giftwell/giftwell/services/reserve/internal/transport/http"
	"github.com/giftwell/giftwell/services/reserve/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.Default()
	if err := godotenv.Load(); err != nil {
		logger.Printf("WARN: no .env loaded: %v", err)
	}
	cfg := config.Load()

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		leaseStore   app.LeaseStore
		sessionStore app.SessionStore
		registry     domain.AdapterRegistry
	)

	switch cfg.StoreBackend {
	case "postgres":
		pool, err := pgxpool.New(startupCtx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect to db: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(startupCtx); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if err := migrations.Apply(startupCtx, pool); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
		leaseStore = postgres.NewLeaseStore(pool)
		sessionStore = postgres.NewSessionStore(pool)
		registry = adapters.NewRegistry(pool)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(startupCtx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		leaseStore = redisstore.NewLeaseStore(client)
		sessionStore = redisstore.NewSessionStore(client)
		logger.Printf("WARN: redis backend has no resource adapters wired; resource state is owned elsewhere")
	case "memory":
		leaseStore = memory.NewLeaseStore()
		sessionStore = memory.NewSessionStore()
		logger.Printf("WARN: memory backend is single-instance only")
	default:
		log.Fatalf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := app.NewMetrics(prometheus.DefaultRegisterer)
	clk := clock.NewSystem()

	var producer *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, logger)
		producer.Start(runCtx)
	}

	resOpts := []app.ReservationOption{
		app.WithDefaultTTL(cfg.GiftTTL),
		app.WithKindTTL(domain.ResourceKindGiftItem, cfg.GiftTTL),
		app.WithKindTTL(domain.ResourceKindStoreProduct, cfg.StoreTTL),
		app.WithMetrics(metrics),
	}
	sweepOpts := []app.SweeperOption{
		app.WithSweepInterval(cfg.SweepInterval),
		app.WithSweepBatch(cfg.SweepBatch),
		app.WithSweeperMetrics(metrics),
	}
	if producer != nil {
		resOpts = append(resOpts, app.WithPublisher(producer))
		sweepOpts = append(sweepOpts, app.WithSweeperPublisher(producer))
	}
	if registry != nil {
		sweepOpts = append(sweepOpts, app.WithOnExpired(func(lease domain.Lease) {
			adapter, ok := registry.For(lease.Resource.Kind)
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adapter.MarkAvailable(ctx, lease.Resource.ID); err != nil {
				logger.Printf("WARN: mark available after expiry %s/%s: %v", lease.Resource.Kind, lease.Resource.ID, err)
			}
		}))
	}

	reservations := app.NewReservationService(leaseStore, clk, resOpts...)
	checkout := app.NewCheckoutService(sessionStore, reservations, clk)
	sweeper := app.NewSweeper(leaseStore, clk, logger, sweepOpts...)
	go sweeper.Run(runCtx)

	handler := transporthttp.NewRouter(reservations, checkout, registry, cfg.CORSOrigins, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	logger.Printf("reserve api listening on %s (store=%s)", cfg.HTTPAddr, cfg.StoreBackend)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
		}
	case <-runCtx.Done():
		logger.Printf("shutdown signal received, stopping server")
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("server shutdown error: %v", err)
	}
	if producer != nil {
		producer.WaitClosed()
	}
	logger.Printf("server stopped")
}
