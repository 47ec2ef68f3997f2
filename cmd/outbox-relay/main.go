package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventcore/api/controllers"
	"github.com/angelmondragon/eventcore/api/routes"
	"github.com/angelmondragon/eventcore/pkg/config"
	"github.com/angelmondragon/eventcore/pkg/db"
	"github.com/angelmondragon/eventcore/pkg/instance"
	"github.com/angelmondragon/eventcore/pkg/logger"
	"github.com/angelmondragon/eventcore/pkg/metrics"
	"github.com/angelmondragon/eventcore/pkg/migrate"
	"github.com/angelmondragon/eventcore/pkg/outbox"
	"github.com/angelmondragon/eventcore/pkg/outbox/relay"
	"github.com/angelmondragon/eventcore/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-relay"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-relay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	checks := map[string]controllers.Pinger{"db": dbClient}

	target, err := newSink(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap sink", err)
		os.Exit(1)
	}
	defer func() {
		if err := target.close(); err != nil {
			logg.Error(context.Background(), "error closing sink client", err)
		}
	}()
	checks[target.sink.Name()] = target.pinger

	var (
		lock    relay.Lock
		tracker relay.DeliveryTracker
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		checks["redis"] = redisClient

		if cfg.Outbox.LockKey != "" {
			redisLock, err := redis.NewLock(redisClient, redisClient.LockKey(cfg.Outbox.LockKey), cfg.Outbox.LockTTL)
			if err != nil {
				logg.Error(context.Background(), "failed to create relay lock", err)
				os.Exit(1)
			}
			lock = redisLock
		}
		if cfg.Outbox.DeliveredTTL > 0 {
			processed, err := redis.NewProcessedTracker(redisClient, cfg.Outbox.DeliveredTTL)
			if err != nil {
				logg.Error(context.Background(), "failed to create delivery tracker", err)
				os.Exit(1)
			}
			tracker = processed
		}
	}

	svc, err := relay.New(relay.Params{
		Config:     cfg.Outbox,
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		DLQ:        outbox.NewDLQRepository(dbClient.DB()),
		Sink:       target.sink,
		Lock:       lock,
		Tracker:    tracker,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox relay", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"sink":        target.sink.Name(),
		"instance_id": instance.GetID(),
	})

	opsServer := &http.Server{
		Addr: ":" + cfg.App.OpsPort,
		Handler: routes.NewOpsRouter(routes.OpsParams{
			Env:    cfg.App.Env,
			Logger: logg,
			Checks: checks,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()

	logg.Info(ctx, "starting outbox relay")
	if err := svc.Start(ctx); err != nil {
		logg.Error(ctx, "failed to start outbox relay", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logg.Info(ctx, "outbox relay shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logg.Error(ctx, "outbox relay did not stop cleanly", err)
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "ops server shutdown failed", err)
	}
	logg.Info(ctx, "outbox relay shut down gracefully")
}
