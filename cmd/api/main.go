package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formfit/internal/api"
	"formfit/internal/config"
	"formfit/internal/ratelimit"
	"formfit/internal/store"
	"formfit/internal/telemetry"
	"formfit/internal/transform"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "formfit-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := transform.Startup(); err != nil {
		logger.Fatalf("transformer startup failed: %v", err)
	}
	defer transform.Shutdown()

	transformer, err := transform.New()
	if err != nil {
		logger.Fatalf("build transformer: %v", err)
	}

	var usageStore store.UsageStore
	if cfg.Database.DSN != "" {
		pgStore, err := store.NewPostgresUsageStore(context.Background(), cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("connect usage store: %v", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				logger.Printf("usage store close error: %v", err)
			}
		}()
		usageStore = pgStore
		logger.Printf("usage store: postgres")
	} else {
		usageStore = store.NewMemoryUsageStore()
		logger.Printf("usage store: memory")
	}

	var rateLimiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		limiter, err := ratelimit.NewRedisTokenBucket(
			redisClient,
			cfg.RateLimit.Requests,
			cfg.RateLimit.Window,
			"formfit:ratelimit",
		)
		if err != nil {
			logger.Fatalf("build rate limiter: %v", err)
		}
		rateLimiter = limiter
		logger.Printf(
			"rate limiting enabled requests=%d window=%s redis=%s",
			cfg.RateLimit.Requests,
			cfg.RateLimit.Window,
			cfg.RateLimit.RedisAddr,
		)
	}

	app := api.NewServer(
		logger,
		cfg.Upload,
		cfg.API.StaticDir,
		transformer,
		usageStore,
		rateLimiter,
		cfg.RateLimit.UserIDHeader,
	)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
