package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/presenca/internal/api"
	"github.com/saturnino-fabrica-de-software/presenca/internal/audit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/cache"
	"github.com/saturnino-fabrica-de-software/presenca/internal/config"
	"github.com/saturnino-fabrica-de-software/presenca/internal/database"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
	"github.com/saturnino-fabrica-de-software/presenca/internal/face"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ledger"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
	"github.com/saturnino-fabrica-de-software/presenca/internal/webhook"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
	keyPrefix       = "presenca"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting Presenca API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("provider", cfg.ProviderType),
		slog.String("matcher_index", cfg.MatcherIndex),
		slog.String("timezone", cfg.AttendanceTimezone),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := database.MigrateUp(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	identities := repository.NewIdentityRepository(pool)
	events := repository.NewAttendanceRepository(pool)

	extractor, err := face.NewExtractor(cfg)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	index, err := matcher.NewIndex(cfg.MatcherIndex, cfg.MatcherCandidates, identities)
	if err != nil {
		return fmt.Errorf("failed to create matcher index: %w", err)
	}
	faceMatcher := matcher.New(index, matcher.Config{
		Dimension:    cfg.EmbeddingDimension,
		Threshold:    cfg.MatchThreshold,
		TieTolerance: cfg.MatchTieTolerance,
	})

	attendanceLedger := ledger.New(events, ledger.Config{
		Location: cfg.Location(),
		Retries:  cfg.LedgerRetries,
		Metrics:  m,
	}, logger)

	// Background workers stop when ctx is canceled
	g, gctx := errgroup.WithContext(ctx)

	hub := ws.NewHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithAuditLogger(audit.NewSlogLogger(logger)),
		service.WithFeed(hub),
	}

	if cfg.CheckCooldown > 0 {
		var store cache.Store = cache.NewMemoryCache()
		if cfg.CooldownBackend == "postgres" {
			store = cache.NewPGCache(pool, keyPrefix)
		}
		opts = append(opts, service.WithCooldown(store))
		g.Go(func() error {
			cache.RunJanitor(gctx, store, janitorInterval, logger)
			return nil
		})
	}

	if cfg.WebhookURL != "" {
		hookConfig := webhook.DefaultConfig(cfg.WebhookURL, cfg.WebhookSecret)
		hookConfig.MaxAttempts = cfg.WebhookMaxAttempts
		if cfg.WebhookBackoff > 0 {
			hookConfig.Backoff = cfg.WebhookBackoff
		}
		dispatcher := webhook.NewDispatcher(hookConfig, m, logger)
		opts = append(opts, service.WithFeed(dispatcher))
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
	}

	svc := service.NewAttendanceService(
		identities,
		extractor,
		embedding.NewAggregator(cfg.EmbeddingDimension, cfg.MinEnrollmentFrames),
		faceMatcher,
		attendanceLedger,
		service.Config{
			ExtractorTimeout:     cfg.ExtractorTimeout,
			ExtractorConcurrency: cfg.ExtractorConcurrency,
			MaxEnrollmentFrames:  cfg.MaxEnrollmentFrames,
			MinFaceSize:          cfg.MinFaceSize,
			CheckCooldown:        cfg.CheckCooldown,
			ProviderName:         cfg.ProviderType,
		},
		opts...,
	)

	loaded, err := svc.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load identity catalog: %w", err)
	}
	logger.Info("identity catalog loaded", slog.Int("identities", loaded))

	var counter ratelimit.Counter
	if cfg.RateLimitMax > 0 && cfg.RateLimitBackend == "postgres" {
		pgCounter := ratelimit.NewPGCounter(pool, cfg.RateLimitWindow, keyPrefix)
		counter = pgCounter
		g.Go(func() error {
			cache.RunJanitor(gctx, pgCounter, janitorInterval, logger)
			return nil
		})
	}

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		Service:          svc,
		Hub:              hub,
		DB:               pool,
		Metrics:          m,
		Gatherer:         reg,
		RateLimitMax:     cfg.RateLimitMax,
		RateLimitWindow:  cfg.RateLimitWindow,
		RateLimitCounter: counter,
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	if err := router.Shutdown(shutdownTimeout); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	stop()
	if err := g.Wait(); err != nil {
		logger.Error("background worker error", slog.Any("error", err))
	}
	logger.Info("server stopped")

	return serveErr
}
