package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codyseavey/card-pricing/internal/api"
	"github.com/codyseavey/card-pricing/internal/api/handlers"
	"github.com/codyseavey/card-pricing/internal/cache"
	"github.com/codyseavey/card-pricing/internal/config"
	"github.com/codyseavey/card-pricing/internal/database"
	"github.com/codyseavey/card-pricing/internal/logger"
	"github.com/codyseavey/card-pricing/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, zl)
	if err != nil {
		return err
	}

	store, closeStore, err := newCacheStore(ctx, cfg.Cache, zl)
	if err != nil {
		return err
	}
	defer closeStore()
	c := cache.New(store, zl)

	budget := services.NewRateBudget(cfg.PriceTracker.DailyLimit, nil)
	if cfg.PriceTracker.APIKey == "" {
		zl.Warn("PPT_API_KEY is not set; pricing API calls will be rejected upstream")
	}
	client := services.NewPriceTrackerClient(services.PriceTrackerClientConfig{
		APIKey:            cfg.PriceTracker.APIKey,
		BaseURL:           cfg.PriceTracker.BaseURL,
		RequestsPerSecond: cfg.PriceTracker.RequestsPerSecond,
	}, budget, zl)
	tracker := services.NewPriceTrackerService(client, c, cfg.Cache.LiveTTL, zl)

	archiveStore := services.NewArchiveStore(db, zl)
	var archive services.ArchivePriceSource = archiveStore
	if cfg.Archive.BaseURL != "" {
		zl.Info("reading archive prices from remote store", zap.String("url", cfg.Archive.BaseURL))
		archive = services.NewArchiveHTTPFetcher(cfg.Archive.BaseURL, nil, zl)
	}

	var synthetic *services.SyntheticSeriesGenerator
	if cfg.SyntheticPrices {
		zl.Warn("synthetic price series enabled; charts may show placeholder data")
		synthetic = services.NewSyntheticSeriesGenerator()
	}
	fallback := services.NewScrapeFallbackService(services.ScrapeFallbackConfig{
		HistoryBaseURL: cfg.Archive.BaseURL,
		ScrapeBaseURL:  cfg.ScrapeBaseURL,
		TTL:            cfg.Cache.ScrapeTTL,
	}, c, synthetic, zl)

	catalog := services.NewCardCatalog(db, zl)
	hybrid := services.NewHybridPricingService(archive, tracker, catalog, fallback, zl)

	syncWorker := services.NewArchiveSyncWorker(
		services.NewTCGCSVClient(cfg.Archive.TCGCSVURL, 0, nil),
		archiveStore,
		services.ArchiveSyncConfig{
			CategoryID: cfg.Archive.CategoryID,
			GroupIDs:   cfg.Archive.GroupIDs,
			Interval:   cfg.Archive.SyncInterval,
			Hour:       cfg.Archive.SyncHour,
		}, zl)
	go runWorker(ctx, zl, syncWorker.Start)

	router := api.SetupRouter(api.RouterConfig{
		CORSOrigins:      cfg.CORSOrigins,
		FrontendDistPath: cfg.FrontendDistPath,
		Cards:            handlers.NewCardHandler(catalog, tracker, zl),
		Prices: handlers.NewPriceHandler(handlers.PriceHandlerDeps{
			History: hybrid,
			Pricing: tracker,
			Catalog: catalog,
			Budget:  budget,
			Sync:    syncWorker,
			Archive: archiveStore,
		}, zl),
		Archive: handlers.NewArchiveHandler(archiveStore, zl),
	}, zl)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced to shutdown", zap.Error(err))
	}
	closeDB(db, zl)
	zl.Info("server exited")
	return nil
}

// newCacheStore uses Redis when configured and falls back to the in-memory
// LRU if it is unreachable
func newCacheStore(ctx context.Context, cfg config.CacheConfig, zl *zap.Logger) (cache.Store, func(), error) {
	if cfg.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			zl.Info("using redis cache", zap.String("addr", cfg.RedisAddr))
			return r, func() { _ = r.Close() }, nil
		}
		zl.Warn("redis unavailable, using in-memory cache", zap.Error(err))
	}

	m, err := cache.NewMemory(cfg.Size)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}

// runWorker restarts a background worker after a panic until ctx is done
func runWorker(ctx context.Context, zl *zap.Logger, start func(context.Context)) {
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					zl.Error("worker panicked, restarting in 30 seconds", zap.Any("panic", r))
				}
			}()
			start(ctx)
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(30 * time.Second):
		}
	}
}

func closeDB(db *gorm.DB, zl *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		zl.Warn("failed to close database", zap.Error(err))
	}
}
