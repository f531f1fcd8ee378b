package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
	"github.com/scripe/tweetsync/pkg/telemetry"
)

// Response is the raw result of one upstream HTTP call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Payload is the decoded JSON body of a 2xx response.
	Payload interface{}
}

// Work performs exactly one upstream HTTP call.
type Work func(ctx context.Context) (*Response, error)

// SchedulerConfig holds the scheduler's pacing and retry policy.
type SchedulerConfig struct {
	MinInterval         time.Duration
	MaxRetries          int
	BaseDelay           time.Duration
	RateLimitRetryAfter time.Duration
	FailureTTL          time.Duration
	RequestTimeout      time.Duration
	QueueSize           int
}

// DefaultSchedulerConfig returns the production pacing policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MinInterval:         2 * time.Second,
		MaxRetries:          2,
		BaseDelay:           3 * time.Second,
		RateLimitRetryAfter: time.Minute,
		FailureTTL:          10 * time.Minute,
		RequestTimeout:      120 * time.Second,
		QueueSize:           256,
	}
}

// SchedulerConfigFrom maps application configuration onto the scheduler.
func SchedulerConfigFrom(cfg *config.UpstreamConfig) SchedulerConfig {
	return SchedulerConfig{
		MinInterval:         cfg.MinInterval,
		MaxRetries:          cfg.MaxRetries,
		BaseDelay:           cfg.BaseDelay,
		RateLimitRetryAfter: cfg.RateLimitRetryAfter,
		FailureTTL:          cfg.FailureTTL,
		RequestTimeout:      cfg.RequestTimeout,
		QueueSize:           cfg.QueueSize,
	}
}

type result struct {
	resp *Response
	err  error
}

type job struct {
	ctx  context.Context
	key  string
	work Work
	done chan result
}

// Scheduler serializes every upstream call through one FIFO queue drained by
// a single worker, so at most one call is in flight. Calls start at least
// MinInterval apart, 429 responses are retried with exponential backoff, and
// failed endpoints are short-circuited by a negative cache.
//
// lastCall and failures belong to the worker goroutine.
type Scheduler struct {
	cfg    SchedulerConfig
	clock  clock.Clock
	logger *zap.Logger

	queue     chan *job
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	lastCall time.Time
	failures *FailureCache

	calls     metric.Int64Counter
	throttled metric.Int64Counter
	retries   metric.Int64Counter
	skipped   metric.Int64Counter
}

// NewScheduler creates a scheduler and starts its worker. Close stops it.
func NewScheduler(cfg SchedulerConfig, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSchedulerConfig().QueueSize
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = DefaultSchedulerConfig().FailureTTL
	}

	s := &Scheduler{
		cfg:       cfg,
		clock:     clk,
		logger:    logging.WithComponent("request-scheduler"),
		queue:     make(chan *job, cfg.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		failures:  NewFailureCache(cfg.FailureTTL),
		calls:     telemetry.Counter("upstream.calls", "Outbound upstream HTTP calls"),
		throttled: telemetry.Counter("upstream.throttled", "Upstream 429 responses"),
		retries:   telemetry.Counter("upstream.retries", "Retries after a 429 response"),
		skipped:   telemetry.Counter("upstream.negative_cache_skips", "Calls skipped by the failure cache"),
	}

	go s.run()
	return s
}

// Submit enqueues work identified by key (the exact request URL) and waits
// for its outcome. Work runs strictly in submission order.
func (s *Scheduler) Submit(ctx context.Context, key string, work Work) (*Response, error) {
	j := &job{ctx: ctx, key: key, work: work, done: make(chan result, 1)}

	select {
	case <-s.quit:
		return nil, ErrSchedulerClosed
	default:
	}

	select {
	case s.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrSchedulerClosed
	}

	select {
	case r := <-j.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		select {
		case r := <-j.done:
			return r.resp, r.err
		default:
			return nil, ErrSchedulerClosed
		}
	}
}

// Close stops the worker. Queued work is rejected with ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	for {
		select {
		case <-s.quit:
			s.drain()
			return
		case j := <-s.queue:
			resp, err := s.execute(j)
			j.done <- result{resp: resp, err: err}
		}
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case j := <-s.queue:
			j.done <- result{err: ErrSchedulerClosed}
		default:
			return
		}
	}
}

func (s *Scheduler) execute(j *job) (*Response, error) {
	// The caller gave up while the job was queued.
	if err := j.ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	s.failures.Purge(now)
	if entry, ok := s.failures.Lookup(j.key, now); ok {
		s.skipped.Add(j.ctx, 1)
		s.logger.Debug("Skipping recently failed endpoint",
			zap.String("url", j.key),
			zap.Int("status", entry.StatusCode),
			zap.Time("retry_not_before", entry.RetryNotBeforeAt))
		return nil, fmt.Errorf("%w: %s", ErrRecentlyFailed, j.key)
	}

	for attempt := 0; ; attempt++ {
		if err := s.waitTurn(j.ctx); err != nil {
			return nil, err
		}

		resp, err := s.call(j)
		if err != nil {
			if j.ctx.Err() == nil {
				s.failures.Record(j.key, 0, s.clock.Now(), 0)
			}
			s.logger.Warn("Upstream call failed", zap.String("url", j.key), zap.Error(err))
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			s.throttled.Add(j.ctx, 1)
			if attempt < s.cfg.MaxRetries {
				delay := s.cfg.BaseDelay * time.Duration(1<<attempt)
				s.logger.Info("Rate limited, backing off",
					zap.String("url", j.key),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay))
				s.retries.Add(j.ctx, 1)
				if err := s.sleep(j.ctx, delay); err != nil {
					return nil, err
				}
				continue
			}

			s.failures.Record(j.key, resp.StatusCode, s.clock.Now(), s.cfg.RateLimitRetryAfter)
			s.logger.Warn("Rate limit retries exhausted",
				zap.String("url", j.key),
				zap.Int("attempts", attempt+1))
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: j.key}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			s.failures.Record(j.key, resp.StatusCode, s.clock.Now(), 0)
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: j.key, Body: truncate(string(resp.Body), 200)}
		}

		return resp, nil
	}
}

// waitTurn enforces the minimum interval between call starts.
func (s *Scheduler) waitTurn(ctx context.Context) error {
	if !s.lastCall.IsZero() {
		if wait := s.cfg.MinInterval - s.clock.Now().Sub(s.lastCall); wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	s.lastCall = s.clock.Now()
	return nil
}

func (s *Scheduler) call(j *job) (*Response, error) {
	ctx := j.ctx
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	s.calls.Add(ctx, 1)
	resp, err := j.work(ctx)
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return resp, err
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSchedulerClosed
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
