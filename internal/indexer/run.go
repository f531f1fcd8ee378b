package indexer

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/upstream"
)

// run is the state of one ingest call. seen is scoped to the run.
type run struct {
	ingestor *Ingestor
	handle   string
	maxTotal int
	logger   *zap.Logger

	seen        map[string]bool
	posts       []*models.Post
	failedPages int
}

// full reports whether the run holds maxTotal posts.
func (r *run) full() bool {
	return len(r.posts) >= r.maxTotal
}

// add keeps p if its id is new to the run and the run is not full.
func (r *run) add(p *models.Post) bool {
	if p.ID == "" || r.seen[p.ID] || r.full() {
		return false
	}
	r.seen[p.ID] = true
	r.posts = append(r.posts, p)
	return true
}

// addTimeline normalizes timeline records until maxTotal posts are held.
// Continuation pages are also restricted to the subject's own thread posts.
func (r *run) addTimeline(records []upstream.Record, filtered bool) int {
	added := 0
	for _, rec := range records {
		if r.full() {
			break
		}
		p := r.ingestor.normalizer.Normalize(rec)
		if filtered && !ownThreadPost(p, r.handle) {
			continue
		}
		if r.add(p) {
			added++
		}
	}
	return added
}

// expandReplies pages through the replies of root. Paging stops without a
// continuation token, at the page cap, or after consecutive failures; the
// replies collected until then are kept. Paging also stops once the run
// is full.
func (r *run) expandReplies(ctx context.Context, root *models.Post) {
	settings := r.ingestor.settings
	if root.ThreadID == "" {
		root.ThreadID = root.ID
	}
	logger := r.logger.With(zap.String("root_id", root.ID))

	token := ""
	pages, failures, accepted := 0, 0, 0
	for pages < settings.MaxReplyPages {
		if ctx.Err() != nil || r.full() {
			break
		}

		var page *upstream.Page
		var err error
		if pages == 0 {
			page, err = r.ingestor.source.Replies(ctx, root.ID)
		} else {
			page, err = r.ingestor.source.RepliesContinuation(ctx, root.ID, token)
		}
		if err != nil {
			failures++
			r.failedPages++
			logger.Warn("Failed to fetch replies", zap.Int("attempt", failures), zap.Error(err))
			if failures >= settings.MaxReplyFailures {
				r.ingestor.abandoned.Add(ctx, 1)
				sentry.CaptureException(fmt.Errorf("abandoned replies of %s after %d failures: %w", root.ID, failures, err))
				logger.Warn("Abandoning thread", zap.Int("kept_replies", accepted))
				return
			}
			continue
		}
		failures = 0
		pages++

		for _, rec := range page.Records {
			if r.full() {
				break
			}
			reply := r.ingestor.normalizer.Normalize(rec)
			if !ownThreadPost(reply, r.handle) {
				continue
			}
			reply.ThreadID = root.ThreadID
			if r.add(reply) {
				accepted++
			}
		}

		token = page.ContinuationToken
		if token == "" {
			break
		}
	}

	logger.Debug("Expanded thread", zap.Int("pages", pages), zap.Int("replies", accepted))
}

// continueTimeline follows the timeline's own continuation tokens. A failed
// page ends continuation.
func (r *run) continueTimeline(ctx context.Context, userID, token string) {
	settings := r.ingestor.settings
	for pages := 0; pages < settings.MaxContinuationPages; pages++ {
		if token == "" || r.full() || ctx.Err() != nil {
			return
		}

		page, err := r.ingestor.source.TimelineContinuation(ctx, r.handle, userID, token)
		if err != nil {
			r.failedPages++
			r.logger.Warn("Failed to continue timeline", zap.Int("page", pages+1), zap.Error(err))
			return
		}

		added := r.addTimeline(page.Records, true)
		r.logger.Debug("Fetched timeline continuation", zap.Int("page", pages+1), zap.Int("added", added))
		token = page.ContinuationToken
	}
}
