package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/cache"
	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/normalize"
	"github.com/scripe/tweetsync/internal/thread"
	"github.com/scripe/tweetsync/internal/upstream"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
	"github.com/scripe/tweetsync/pkg/telemetry"
)

// ErrMissingHandle is returned before any upstream call when no handle is given.
var ErrMissingHandle = errors.New("handle is required")

// Source is the content API as seen by the ingestor.
type Source interface {
	UserID(ctx context.Context, handle string) (string, error)
	Timeline(ctx context.Context, handle, userID string, limit int) (*upstream.Page, error)
	TimelineContinuation(ctx context.Context, handle, userID, token string) (*upstream.Page, error)
	Replies(ctx context.Context, postID string) (*upstream.Page, error)
	RepliesContinuation(ctx context.Context, postID, token string) (*upstream.Page, error)
}

// ResultCache stores recent ingest results.
type ResultCache interface {
	GetObject(ctx context.Context, key string, v interface{}) (bool, error)
	SetObject(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Settings bound the cost of every ingest run.
type Settings struct {
	InitialFetchCount    int
	MaxTotal             int
	TopThreads           int
	MaxReplyPages        int
	MaxReplyFailures     int
	MaxContinuationPages int
	KeepAlive            time.Duration
	SoftDeadline         time.Duration
	CacheTTL             time.Duration
}

// DefaultSettings returns the production limits.
func DefaultSettings() Settings {
	return Settings{
		InitialFetchCount:    50,
		MaxTotal:             200,
		TopThreads:           10,
		MaxReplyPages:        4,
		MaxReplyFailures:     3,
		MaxContinuationPages: 3,
		KeepAlive:            30 * time.Second,
		SoftDeadline:         6 * time.Minute,
		CacheTTL:             5 * time.Minute,
	}
}

// SettingsFrom maps application configuration onto ingest settings.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		InitialFetchCount:    cfg.Ingest.InitialFetchCount,
		MaxTotal:             cfg.Ingest.MaxTotal,
		TopThreads:           cfg.Ingest.TopThreads,
		MaxReplyPages:        cfg.Ingest.MaxReplyPages,
		MaxReplyFailures:     cfg.Ingest.MaxReplyFailures,
		MaxContinuationPages: cfg.Ingest.MaxContinuationPages,
		KeepAlive:            cfg.Ingest.KeepAlive,
		SoftDeadline:         cfg.Ingest.SoftDeadline,
		CacheTTL:             cfg.Redis.IngestCacheTTL,
	}
}

// Options tune a single ingest call. Zero values use the settings.
type Options struct {
	InitialFetchCount int
	MaxTotal          int
	// Heartbeat, when set, is called every KeepAlive while the run is busy.
	Heartbeat func()
	// SkipCache forces a fresh fetch.
	SkipCache bool
}

// Result is the assembled output of one ingest run.
type Result struct {
	Handle      string         `json:"handle"`
	Count       int            `json:"count"`
	Posts       []*models.Post `json:"posts"`
	Partial     bool           `json:"partial"`
	Cached      bool           `json:"cached"`
	FailedPages int            `json:"failedPages"`
}

// Ingestor fetches a handle's timeline, expands its busiest threads and
// returns the merged, deduplicated and ordered posts.
type Ingestor struct {
	source     Source
	cache      ResultCache
	normalizer *normalize.Normalizer
	settings   Settings
	clock      clock.Clock
	logger     *zap.Logger

	runs      metric.Int64Counter
	abandoned metric.Int64Counter
}

// NewIngestor creates an ingestor. cache may be nil; a nil clock uses real
// time.
func NewIngestor(source Source, resultCache ResultCache, settings Settings, clk clock.Clock) *Ingestor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Ingestor{
		source:     source,
		cache:      resultCache,
		normalizer: normalize.New(),
		settings:   settings,
		clock:      clk,
		logger:     logging.WithComponent("ingestor"),
		runs:       telemetry.Counter("ingest.runs", "Ingest runs started"),
		abandoned:  telemetry.Counter("ingest.roots_abandoned", "Roots abandoned after repeated reply fetch failures"),
	}
}

// Ingest assembles the posts of handle. Failures after the first timeline
// page are tolerated and simply leave their posts out. When the soft
// deadline passes, the posts collected so far are returned with Partial set.
func (i *Ingestor) Ingest(ctx context.Context, handle, ownerID string, opts Options) (*Result, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, ErrMissingHandle
	}
	if opts.InitialFetchCount <= 0 {
		opts.InitialFetchCount = i.settings.InitialFetchCount
	}
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = i.settings.MaxTotal
	}

	ctx, span := telemetry.StartSpan(ctx, "indexer.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("handle", handle), attribute.String("owner_id", ownerID))
	i.runs.Add(ctx, 1)

	logger := logging.WithHandle(i.logger, handle)
	key := cacheKey(handle, opts)

	if opts.SkipCache {
		i.invalidate(ctx, handle, logger)
	} else if cached := i.cached(ctx, key, logger); cached != nil {
		return cached, nil
	}

	stop := startHeartbeat(i.clock, i.settings.KeepAlive, opts.Heartbeat)
	defer stop()

	runCtx := ctx
	if i.settings.SoftDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.settings.SoftDeadline)
		defer cancel()
	}

	r := &run{
		ingestor: i,
		handle:   handle,
		maxTotal: opts.MaxTotal,
		seen:     make(map[string]bool),
		logger:   logger,
	}

	userID, err := i.source.UserID(runCtx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %s: %w", handle, err)
	}

	first, err := i.source.Timeline(runCtx, handle, userID, opts.InitialFetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch timeline for %s: %w", handle, err)
	}
	r.addTimeline(first.Records, false)
	logger.Info("Fetched timeline", zap.Int("posts", len(r.posts)))

	for _, root := range selectRoots(r.posts, i.settings.TopThreads) {
		if runCtx.Err() != nil || r.full() {
			break
		}
		r.expandReplies(runCtx, root)
	}

	r.continueTimeline(runCtx, userID, first.ContinuationToken)

	// The caller went away; nobody is waiting for a partial result.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Handle:      handle,
		Posts:       thread.Arrange(r.posts),
		Partial:     runCtx.Err() != nil,
		FailedPages: r.failedPages,
	}
	result.Count = len(result.Posts)
	span.SetAttributes(attribute.Int("count", result.Count), attribute.Bool("partial", result.Partial))

	if result.Partial {
		logger.Warn("Soft deadline reached, returning partial result", zap.Int("count", result.Count))
	} else {
		i.store(ctx, key, result, logger)
	}

	logger.Info("Ingest complete",
		zap.Int("count", result.Count),
		zap.Int("failed_pages", result.FailedPages),
		zap.Bool("partial", result.Partial))
	return result, nil
}

func (i *Ingestor) cached(ctx context.Context, key string, logger *zap.Logger) *Result {
	if i.cache == nil {
		return nil
	}
	var result Result
	found, err := i.cache.GetObject(ctx, key, &result)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheDisabled) {
			logger.Warn("Failed to read cached ingest result", zap.Error(err))
		}
		return nil
	}
	if !found {
		return nil
	}
	result.Cached = true
	logger.Debug("Serving cached ingest result", zap.Int("count", result.Count))
	return &result
}

func (i *Ingestor) store(ctx context.Context, key string, result *Result, logger *zap.Logger) {
	if i.cache == nil || i.settings.CacheTTL <= 0 {
		return
	}
	if err := i.cache.SetObject(ctx, key, result, i.settings.CacheTTL); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		logger.Warn("Failed to cache ingest result", zap.Error(err))
	}
}

// invalidate drops every cached result for handle, whatever its options.
func (i *Ingestor) invalidate(ctx context.Context, handle string, logger *zap.Logger) {
	if i.cache == nil {
		return
	}
	if err := i.cache.DeletePrefix(ctx, handlePrefix(handle)); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		logger.Warn("Failed to invalidate cached ingest results", zap.Error(err))
	}
}

func handlePrefix(handle string) string {
	return "ingest:" + strings.ToLower(handle) + ":"
}

func cacheKey(handle string, opts Options) string {
	return handlePrefix(handle) + cache.HashKey(
		strconv.Itoa(opts.InitialFetchCount),
		strconv.Itoa(opts.MaxTotal),
	)
}

// selectRoots ranks non-retweet posts with replies by reply count, keeping
// chronological order among equal counts, and returns the top n.
func selectRoots(posts []*models.Post, n int) []*models.Post {
	var roots []*models.Post
	for _, p := range posts {
		if !p.IsRetweet && p.Metrics.ReplyCount > 0 {
			roots = append(roots, p)
		}
	}
	thread.Sort(roots)
	sort.SliceStable(roots, func(a, b int) bool {
		return roots[a].Metrics.ReplyCount > roots[b].Metrics.ReplyCount
	})
	if len(roots) > n {
		roots = roots[:n]
	}
	return roots
}

// startHeartbeat calls fn every interval until the returned stop function
// is called. stop waits for the goroutine to exit.
func startHeartbeat(clk clock.Clock, interval time.Duration, fn func()) (stop func()) {
	if fn == nil || interval <= 0 {
		return func() {}
	}

	ticker := clk.NewTicker(interval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
