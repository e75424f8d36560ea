package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	authmetrics "stockroom/internal/auth/metrics"
	"stockroom/internal/auth/oauth"
	"stockroom/internal/auth/refresh"
	"stockroom/internal/auth/service"
	sessionStore "stockroom/internal/auth/store/session"
	"stockroom/internal/inventory"
	"stockroom/internal/platform/config"
	"stockroom/internal/platform/httpserver"
	"stockroom/internal/platform/logger"
	"stockroom/internal/platform/metrics"
	"stockroom/internal/platform/redis"
	httptransport "stockroom/internal/transport/http"
	"stockroom/pkg/platform/circuit"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	httpMetrics := metrics.New(registry)
	authMetrics := authmetrics.New(registry)

	sessions := sessionStore.NewRedis(redisClient.Client, sessionStore.WithKeyPrefix(cfg.Redis.KeyPrefix))
	oauthClient := oauth.New(cfg.OAuth)
	coordinator := refresh.New(oauthClient, sessions, cfg.Session,
		refresh.WithLogger(log),
		refresh.WithMetrics(authMetrics),
		refresh.WithTimeout(cfg.OAuth.Timeout),
	)
	authService := service.New(sessions, oauthClient, coordinator, cfg.Session,
		service.WithLogger(log),
		service.WithMetrics(authMetrics),
	)

	inventoryClient := inventory.NewCachedClient(
		inventory.NewClient(cfg.OAuth, inventory.WithAuthScheme(oauthClient.AuthScheme())),
		inventory.NewRedisCache(redisClient.Client),
		cfg.InventoryCacheTTL,
		inventory.WithKeyPrefix(cfg.Redis.KeyPrefix),
		inventory.WithLogger(log),
		inventory.WithBreaker(circuit.New("inventory-cache")),
	)

	handler := httptransport.NewHandler(authService, inventoryClient, redisClient, log, cfg.Session.TTL, cfg.CookieSecure)
	// The default gatherer carries the runtime collectors plus the store and
	// cache metrics registered via promauto.
	gatherers := prometheus.Gatherers{registry, prometheus.DefaultGatherer}
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, httpMetrics, gatherers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting stockroom", "addr", cfg.Addr, "environment", cfg.Environment, "oauth", oauthClient.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
