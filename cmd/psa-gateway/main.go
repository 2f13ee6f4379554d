package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/psagate/psa-gateway/pkg/config"
	"github.com/psagate/psa-gateway/pkg/events"
	"github.com/psagate/psa-gateway/pkg/gateway"
	"github.com/psagate/psa-gateway/pkg/logging"
	"github.com/psagate/psa-gateway/pkg/polling"
	"github.com/psagate/psa-gateway/pkg/pool"
	"github.com/psagate/psa-gateway/pkg/psa"
	"github.com/psagate/psa-gateway/pkg/ratelimit"
	"github.com/psagate/psa-gateway/pkg/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "psa-gateway",
		Short: "Multi-tenant gateway for a rate-limited PSA API",
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg := config.GetConfig()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger.Info().Msg("Starting psa-gateway")
	logger.Debug().Msgf("Configuration:\n%s", cfg)

	// Rate limiter: in-process window by default, Redis-shared when
	// replicas must share one upstream budget.
	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
			return err
		}
		defer redisClient.Close()
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Using Redis-shared rate window")
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitMaxRequests, cfg.RateLimitWindow, logging.NewLogger("ratelimit"))
	} else {
		limiter = ratelimit.NewLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow, logging.NewLogger("ratelimit"))
	}

	sem := ratelimit.NewSemaphore(cfg.MaxConcurrency)
	gate := ratelimit.NewGate(limiter, sem, logging.NewLogger("gate"))

	clientPool := pool.New(pool.Config{
		Capacity:      cfg.PoolCapacity,
		SessionTTL:    cfg.PoolSessionTTL,
		SweepInterval: cfg.PoolSweepInterval,
		Logger:        logging.NewLogger("pool"),
		Factory: func(ctx context.Context, creds psa.TenantCredentials) (psa.Client, error) {
			return psa.Connect(ctx, creds, psa.ConnectOptions{
				BaseURL: cfg.UpstreamBaseURL,
				Logger:  logging.NewLogger("psa"),
			})
		},
	})
	defer clientPool.Close()

	svc := gateway.NewService(clientPool, gate, logging.NewLogger("gateway"))

	hub := events.NewHub(cfg.SSEIdleTimeout, logging.NewLogger("events"))
	defer hub.Close()

	manager := polling.NewManager(svc, hub, logging.NewLogger("polling"))
	defer manager.StopAll()

	srv := server.New(svc, manager, hub, server.Config{
		HeartbeatInterval:   cfg.HeartbeatInterval,
		DefaultPollInterval: cfg.DefaultPollInterval,
	}, logging.NewLogger("server"))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	// Stop background work before the listener so in-flight SSE streams see
	// their stop events.
	manager.StopAll()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
