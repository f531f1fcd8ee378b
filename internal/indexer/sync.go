package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
)

// Ingester runs one ingest.
type Ingester interface {
	Ingest(ctx context.Context, handle, ownerID string, opts Options) (*Result, error)
}

// Saver persists ingested posts.
type Saver interface {
	Reconcile(ctx context.Context, ownerID string, posts []*models.Post, opts persist.Options) (*persist.Result, error)
}

// HandleReport is the outcome of syncing one handle.
type HandleReport struct {
	Handle  string
	Fetched int
	Saved   int
	Skipped int
	Partial bool
	Err     error
}

// Sync re-ingests a watchlist of handles for one owner on a cron schedule.
type Sync struct {
	ingester Ingester
	saver    Saver
	handles  []string
	ownerID  string
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSync creates a watchlist sync from the ingest configuration.
func NewSync(cfg *config.IngestConfig, ingester Ingester, saver Saver) (*Sync, error) {
	if cfg.WatchOwner == "" {
		return nil, fmt.Errorf("watch owner is required")
	}
	if _, err := cron.ParseStandard(cfg.WatchSchedule); err != nil {
		return nil, fmt.Errorf("invalid watch schedule %q: %w", cfg.WatchSchedule, err)
	}

	timeout := cfg.SoftDeadline * time.Duration(len(cfg.Watchlist)+1)
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &Sync{
		ingester: ingester,
		saver:    saver,
		handles:  cfg.Watchlist,
		ownerID:  cfg.WatchOwner,
		schedule: cfg.WatchSchedule,
		timeout:  timeout,
		logger:   logging.WithComponent("watchlist-sync"),
	}, nil
}

// Run syncs on the schedule until ctx is cancelled. A run still in progress
// when the next one is due causes that one to be skipped.
func (s *Sync) Run(ctx context.Context) error {
	s.logger.Info("Starting watchlist sync",
		zap.Strings("handles", s.handles),
		zap.String("schedule", s.schedule))

	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		s.RunOnce(runCtx)
	}); err != nil {
		return fmt.Errorf("failed to schedule watchlist sync: %w", err)
	}

	c.Start()
	<-ctx.Done()

	s.logger.Info("Stopping watchlist sync")
	<-c.Stop().Done()
	return nil
}

// RunOnce ingests and saves every handle in the watchlist. A failing handle
// does not stop the others.
func (s *Sync) RunOnce(ctx context.Context) []HandleReport {
	reports := make([]HandleReport, 0, len(s.handles))
	for _, handle := range s.handles {
		if ctx.Err() != nil {
			break
		}
		report := s.SyncHandle(ctx, handle)
		if report.Err != nil {
			if !errors.Is(report.Err, context.Canceled) {
				sentry.CaptureException(report.Err)
			}
			s.logger.Error("Failed to sync handle", zap.String("handle", handle), zap.Error(report.Err))
		}
		reports = append(reports, report)
	}
	return reports
}

// SyncHandle ingests one handle, bypassing the result cache, and saves the
// posts for the watch owner with the default conflict policy.
func (s *Sync) SyncHandle(ctx context.Context, handle string) HandleReport {
	report := HandleReport{Handle: strings.TrimPrefix(handle, "@")}

	result, err := s.ingester.Ingest(ctx, handle, s.ownerID, Options{SkipCache: true})
	if err != nil {
		report.Err = fmt.Errorf("failed to ingest %s: %w", handle, err)
		return report
	}
	report.Fetched = result.Count
	report.Partial = result.Partial

	saved, err := s.saver.Reconcile(ctx, s.ownerID, result.Posts, persist.DefaultOptions())
	if err != nil {
		report.Err = fmt.Errorf("failed to save %s: %w", handle, err)
		return report
	}
	report.Saved = saved.SavedCount
	report.Skipped = saved.SkippedCount

	s.logger.Info("Synced handle",
		zap.String("handle", report.Handle),
		zap.Int("fetched", report.Fetched),
		zap.Int("saved", report.Saved),
		zap.Int("skipped", report.Skipped),
		zap.Bool("partial", report.Partial))
	return report
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
