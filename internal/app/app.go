// Package app wires the storage, cache and upstream client into the
// ingestion pipeline shared by the server and the ingestor commands.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/api"
	"github.com/scripe/tweetsync/internal/cache"
	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/internal/db"
	"github.com/scripe/tweetsync/internal/indexer"
	"github.com/scripe/tweetsync/internal/persist"
	"github.com/scripe/tweetsync/internal/upstream"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
)

// App holds the assembled pipeline.
type App struct {
	Ingestor *indexer.Ingestor
	Gateway  *persist.Gateway
	// Checks are the backing services reported by the health endpoint.
	Checks map[string]api.HealthChecker

	closers []func()
	logger  *zap.Logger
}

// New connects to storage and Redis and builds the ingestor and gateway.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Checks: make(map[string]api.HealthChecker),
		logger: logging.WithComponent("app"),
	}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	var resultCache indexer.ResultCache
	if redisCache != nil {
		resultCache = redisCache
		a.Checks["redis"] = redisCache
		a.closers = append(a.closers, func() { _ = redisCache.Close() })
	}

	scheduler := upstream.NewScheduler(upstream.SchedulerConfigFrom(&cfg.Upstream), clock.Real())
	a.closers = append(a.closers, scheduler.Close)

	client, err := upstream.NewClient(&cfg.Upstream, scheduler, &http.Client{Timeout: cfg.Upstream.RequestTimeout})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ingestor = indexer.NewIngestor(client, resultCache, indexer.SettingsFrom(cfg), clock.Real())
	a.Gateway = persist.NewGateway(store, clock.Real())
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (persist.Store, error) {
	if cfg.Database.Driver == "mongo" {
		m, err := db.NewMongo(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mongo: %w", err)
		}
		a.Checks["mongo"] = m
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.Close(closeCtx)
		})
		return db.NewMongoPostRepository(m), nil
	}

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.Checks["database"] = database
	a.closers = append(a.closers, func() { _ = database.Close() })
	return db.NewPostRepository(database.DB), nil
}

// Close releases every connection in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.logger.Debug("Pipeline closed")
}
