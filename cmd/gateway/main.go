// Command gateway runs the query gateway HTTP server: it loads
// configuration from the environment, wires the session manager, rate
// limiters, and daily cleanup scheduler, then serves the HTTP API until
// terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querygate/gateway/internal/config"
	"github.com/querygate/gateway/internal/httpapi"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/ratelimit"
	"github.com/querygate/gateway/internal/redisclient"
	"github.com/querygate/gateway/internal/scheduler"
	"github.com/querygate/gateway/internal/session"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.Environment)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisConn := &redisclient.Connection{
		ConnectionStringSource: cfg.RedisURL,
		Logger:                 logger,
		RetryAttempts:          cfg.RedisRetryAttempts,
		RetryDelay:             time.Duration(cfg.RedisRetryDelayMS) * time.Millisecond,
	}

	redisClient, err := redisConn.GetClient(ctx)
	if err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}

	queryLimiter := &ratelimit.Limiter{
		RedisClient: redisClient,
		Max:         cfg.RateLimitQueryMax,
		Window:      time.Minute,
		Prefix:      "ratelimit:query",
		Logger:      logger,
	}

	connectionLimiter := &ratelimit.Limiter{
		RedisClient: redisClient,
		Max:         cfg.RateLimitConnectionMax,
		Window:      time.Minute,
		Prefix:      "ratelimit:connection",
		Logger:      logger,
	}

	sessions := session.NewManager(
		logger,
		time.Duration(cfg.SessionTimeoutMS)*time.Millisecond,
		cfg.QueryDefaultLimit,
		cfg.MongoSchemaSampleSize,
		time.Duration(cfg.QueryTimeoutMS)*time.Millisecond,
	)
	defer sessions.Stop()

	sched := scheduler.New(logger, cfg.Defaults)
	if err := sched.Start(); err != nil {
		logger.Fatalf("failed to start cleanup scheduler: %v", err)
	}
	defer sched.Stop()

	app := httpapi.NewApp(&httpapi.Server{
		Config:            cfg,
		Logger:            logger,
		Sessions:          sessions,
		Scheduler:         sched,
		QueryLimiter:      queryLimiter,
		ConnectionLimiter: connectionLimiter,
	})

	go func() {
		<-ctx.Done()

		logger.Info("shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Errorf("error during shutdown: %v", err)
		}
	}()

	logger.Infof("gateway listening on :%s", cfg.Port)

	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func newLogger(env string) mlog.Logger {
	zl, err := mlog.NewZapLogger(env)
	if err != nil {
		fallback := &mlog.GoLogger{Level: mlog.InfoLevel}
		fallback.Warnf("failed to build zap logger, falling back to stdlib logger: %v", err)

		return fallback
	}

	return zl
}
