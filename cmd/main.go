package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/stresstrack/internal/adapters/http/api"
	"github.com/okian/stresstrack/internal/adapters/http/swagger"
	"github.com/okian/stresstrack/internal/adapters/repository"
	service "github.com/okian/stresstrack/internal/app"
	"github.com/okian/stresstrack/internal/config"
	"github.com/okian/stresstrack/internal/domain/dedupe"
	"github.com/okian/stresstrack/internal/domain/scoring"
	"github.com/okian/stresstrack/pkg/logger"
	"github.com/okian/stresstrack/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger is not configured yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run serves the collector API until ctx is cancelled, then shuts down.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	deduper, closeDeduper := buildDeduper(cfg)
	defer func() {
		if err := closeDeduper(); err != nil {
			log.Warn(ctx, "failed to close dedupe backend", logger.Error(err))
		}
	}()

	svc := service.New(
		service.WithStore(store),
		service.WithDeduper(deduper),
		service.WithScorer(scoring.New(scoring.WithWeights(cfg.Weights()))),
		service.WithLogger(log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(ctx, cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr()),
			logger.String("store", cfg.Store),
			logger.String("dedupe", cfg.DedupeBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop service: %w", err))
	}

	log.Info(ctx, "server stopped")
	return runErr
}

// buildStore opens the configured behavior store.
func buildStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemoryStore(repository.WithMovementCap(cfg.MovementCap)), nil
	case config.StoreMongo:
		store, err := repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection,
			repository.WithMovementCap(cfg.MovementCap),
			repository.WithTimeout(cfg.MongoTimeout()),
		)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// buildDeduper returns the configured batch-id tracker and a func that
// releases its connection.
func buildDeduper(cfg *config.Config) (dedupe.Deduper, func() error) {
	switch cfg.DedupeBackend {
	case config.DedupeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return dedupe.NewRedisDeduper(client, dedupe.WithRedisTTL(cfg.DedupeTTL())), client.Close
	case config.DedupeNone:
		return dedupe.NewNoop(), func() error { return nil }
	default:
		return dedupe.NewInMemoryDeduper(
			dedupe.WithMaxSize(cfg.DedupeSize),
			dedupe.WithTTL(cfg.DedupeTTL()),
		), func() error { return nil }
	}
}

// newHandler mounts the docs and API routes on a fresh mux.
func newHandler(ctx context.Context, cfg *config.Config, svc *service.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)

	apiServer := api.NewServer(svc, svc,
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
		api.WithLogger(log.Named("api")),
	)
	apiServer.Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
