package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankdesk/dispatch-service/internal/config"
	"bankdesk/dispatch-service/internal/httpapi"
	"bankdesk/dispatch-service/internal/logger"
	"bankdesk/dispatch-service/internal/outbox"
	"bankdesk/dispatch-service/internal/slots"
	"bankdesk/dispatch-service/internal/store"
	"bankdesk/dispatch-service/internal/store/memory"
	"bankdesk/dispatch-service/internal/store/postgres"
	"bankdesk/dispatch-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var autoMigrate bool

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Apply pending migrations before serving (postgres only)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	loc, err := slots.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return err
	}
	listOrder, err := store.ParseQueueOrder(cfg.QueueListTieBreak)
	if err != nil {
		return err
	}
	positionOrder, err := store.ParseQueueOrder(cfg.QueuePositionTieBreak)
	if err != nil {
		return err
	}
	if listOrder != positionOrder {
		log.Warn("queue listing and queue position use different tie-breaks",
			"list", listOrder,
			"position", positionOrder,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelInsecure)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := httpapi.NewHandler(st, httpapi.Options{
		Slots:                slots.NewGenerator(loc, cfg.SlotDaysAhead, cfg.SlotLeadTime),
		ListOrder:            listOrder,
		PositionOrder:        positionOrder,
		LiveMinutesPerTicket: cfg.LiveMinutesPerTicket,
		Logger:               log,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	})
	verifier := httpapi.NewTokenVerifier(cfg.JWTSecret)

	var root http.Handler = handler.Routes()
	root = limiter.UserMiddleware(root)
	root = httpapi.AuthMiddleware(verifier, root)
	root = limiter.Middleware(root)
	root = httpapi.LoggingMiddleware(log, root)
	root = otelhttp.NewHandler(root, serviceName)

	scheduler := cron.New()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		relay := outbox.NewRelay(st, rdb, outbox.Options{
			Stream:    cfg.OutboxStream,
			BatchSize: cfg.OutboxBatchSize,
			Settle:    cfg.OutboxSettle,
			Logger:    log,
		})
		if _, err := relay.Schedule(scheduler, cfg.OutboxSchedule, 30*time.Second); err != nil {
			return fmt.Errorf("schedule outbox relay: %w", err)
		}
		scheduler.Start()
		log.Info("outbox relay scheduled", "stream", cfg.OutboxStream, "schedule", cfg.OutboxSchedule)
	} else {
		log.Info("REDIS_ADDR not set, outbox relay disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("dispatch-service listening", "addr", server.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("shutting down")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore returns the configured store and a func that releases it.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		st := memory.NewStore(memory.Options{})
		workers, err := seedDemo(ctx, st, demoWorkersPerDepartment)
		if err != nil {
			return nil, nil, err
		}
		for _, w := range workers {
			log.Info("demo worker", "worker_id", w.WorkerID, "name", w.FullName, "department_id", w.DepartmentID)
		}
		return st, func() {}, nil
	case "postgres":
		pool, err := connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if autoMigrate {
			version, err := postgres.Migrate(ctx, pool, "up")
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			log.Info("migrations applied", "version", version)
		}
		return postgres.NewStore(pool, postgres.Options{}), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DB_DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}
