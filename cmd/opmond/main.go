package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshgate/opmond/internal/auth"
	"github.com/meshgate/opmond/internal/buffer"
	"github.com/meshgate/opmond/internal/config"
	"github.com/meshgate/opmond/internal/handlers"
	"github.com/meshgate/opmond/internal/health"
	"github.com/meshgate/opmond/internal/logging"
	"github.com/meshgate/opmond/internal/query"
	"github.com/meshgate/opmond/internal/ratelimit"
	"github.com/meshgate/opmond/internal/registry"
	"github.com/meshgate/opmond/internal/server"
	"github.com/meshgate/opmond/internal/store"
	"github.com/meshgate/opmond/internal/subscriber"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Component("opmond"))
	logging.SetDefault(logger)

	logger.Info("Starting operational monitoring daemon",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"buffer_size", cfg.Buffer.Size,
	)
	if *configPath != "" {
		logger.Info("Loaded configuration", "config_path", *configPath)
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		log.Fatalf("Failed to load client registry: %v", err)
	}
	logger.Info("Client registry loaded", "path", cfg.Registry.Path, "owner", reg.Owner().String())

	if err := store.Migrate(cfg.Store.DSN); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	records, err := store.NewPostgresStore(ctx, cfg.Store.DSN)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to record store: %v", err)
	}
	defer records.Close()

	var rateLimiter ratelimit.RateLimiter
	if cfg.Redis.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Redis.RateLimitRequests,
			cfg.Redis.RateLimitWindow,
			false,
		)
		if err != nil {
			logger.Warn("Rate limiter unavailable, continuing without rate limiting", "error", err)
			rateLimiter = &ratelimit.NoOpRateLimiter{}
		} else {
			rateLimiter = limiter
			logger.Info("Rate limiting enabled",
				"requests", cfg.Redis.RateLimitRequests,
				"window", cfg.Redis.RateLimitWindow.String())
		}
	} else {
		rateLimiter = &ratelimit.NoOpRateLimiter{}
		logger.Info("Redis disabled, rate limiting not available")
	}
	defer rateLimiter.Close()

	agg := health.New(cfg.Health.StatisticsPeriodSeconds)
	defer agg.Stop()

	buf := buffer.New(records, cfg.Buffer.Size,
		time.Duration(cfg.Buffer.SendingIntervalSeconds)*time.Second,
		logger.With(logging.Component("buffer")))

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is required")
	}
	tokens := auth.NewTokenGenerator(cfg.Auth.JWTSecret)

	engine := query.NewEngine(records, reg, agg,
		int(cfg.Store.RecordsAvailableTimestampOffsetSeconds),
		cfg.Store.MaxRecordsInPayload,
		cfg.Store.QueryTimeout,
		logger.With(logging.Component("query")))

	if cfg.NATS.Enabled {
		sub, err := subscriber.New(cfg.NATS.URL, cfg.NATS.Subject, buf, agg,
			logger.With(logging.Component("subscriber")))
		if err != nil {
			log.Fatalf("Failed to start NATS subscriber: %v", err)
		}
		defer sub.Close()
	} else {
		logger.Info("NATS subscriber disabled")
	}

	cleanupDone := startRetentionCleaner(records, cfg.Store, logger)
	defer close(cleanupDone)

	handler := handlers.New(engine, buf, reg, rateLimiter, tokens, agg, records,
		logger.With(logging.Component("handlers")))
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Daemon listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Drain the buffer before the store connection goes away.
	buf.Stop(shutdownCtx)

	logger.Info("Daemon stopped")
}

// startRetentionCleaner periodically deletes records past the retention
// window. Returns a channel that stops the cleaner when closed.
func startRetentionCleaner(records store.Records, cfg config.StoreConfig, logger *logging.Logger) chan struct{} {
	done := make(chan struct{})
	if cfg.RetentionDays <= 0 {
		logger.Info("Record retention cleaner disabled")
		return done
	}

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				olderThan := time.Now().AddDate(0, 0, -cfg.RetentionDays)
				ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
				deleted, err := records.Cleanup(ctx, olderThan)
				cancel()
				if err != nil {
					logger.Error("Retention cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Info("Retention cleanup removed records",
						"deleted", deleted, "older_than", olderThan.Format(time.RFC3339))
				}
			case <-done:
				return
			}
		}
	}()

	logger.Info("Record retention cleaner started",
		"retention_days", cfg.RetentionDays, "interval", cfg.CleanupInterval.String())
	return done
}
