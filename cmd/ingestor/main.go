package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/app"
	"github.com/scripe/tweetsync/internal/indexer"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
	"github.com/scripe/tweetsync/pkg/telemetry"
)

func main() {
	handles := flag.StringSliceP("handle", "H", nil, "handle to ingest, repeatable; overrides the configured watchlist")
	owner := flag.StringP("owner", "o", "", "owner the posts are saved for; overrides the configured watch owner")
	once := flag.Bool("once", false, "sync the watchlist once and exit instead of running on the schedule")
	flag.Parse()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if len(*handles) > 0 {
		cfg.Ingest.Watchlist = *handles
	}
	if *owner != "" {
		cfg.Ingest.WatchOwner = *owner
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting TweetSync Ingestor")

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
	}); err != nil {
		logger.Fatal("Failed to initialize sentry", zap.Error(err))
	}
	defer sentry.Flush(5 * time.Second)

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	watch, err := indexer.NewSync(&cfg.Ingest, pipeline.Ingestor, pipeline.Gateway)
	if err != nil {
		logger.Fatal("Failed to create watchlist sync", zap.Error(err))
	}

	if !*once {
		if err := watch.Run(ctx); err != nil {
			logger.Error("Watchlist sync failed", zap.Error(err))
		}
		logger.Info("Ingestor exited")
		return
	}

	failed := 0
	for _, report := range watch.RunOnce(ctx) {
		if report.Err != nil {
			failed++
		}
	}
	logger.Info("Ingestor finished", zap.Int("handles", len(cfg.Ingest.Watchlist)), zap.Int("failed", failed))
	if failed > 0 {
		// Deferred cleanup is skipped by os.Exit, so release connections first.
		pipeline.Close()
		sentry.Flush(5 * time.Second)
		os.Exit(1)
	}
}
