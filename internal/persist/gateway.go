package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/clock"
	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/thread"
	"github.com/scripe/tweetsync/pkg/logging"
	"github.com/scripe/tweetsync/pkg/telemetry"
)

const defaultListLimit = 100

// Options select how posts that are already saved are treated.
type Options struct {
	// SkipDuplicates leaves saved posts untouched.
	SkipDuplicates bool
	// PreserveExisting, consulted only without SkipDuplicates, updates just
	// the metadata of saved posts instead of overwriting them.
	PreserveExisting bool
	// PreserveThreadOrder re-derives thread positions before writing.
	PreserveThreadOrder bool
}

// DefaultOptions enables every option.
func DefaultOptions() Options {
	return Options{SkipDuplicates: true, PreserveExisting: true, PreserveThreadOrder: true}
}

// Result counts the outcome of one Reconcile call.
type Result struct {
	Total        int            `json:"total"`
	SavedCount   int            `json:"savedCount"`
	SkippedCount int            `json:"skippedCount"`
	SavedPosts   []*models.Post `json:"savedPosts"`
}

type outcome int

const (
	outcomeInsert outcome = iota
	outcomeSkip
	outcomeMetadata
	outcomeReplace
)

// Gateway is the only writer of saved posts.
type Gateway struct {
	store    Store
	validate *validator.Validate
	clock    clock.Clock
	logger   *zap.Logger
}

// NewGateway creates a gateway over store. A nil clock uses real time.
func NewGateway(store Store, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{
		store:    store,
		validate: validator.New(),
		clock:    clk,
		logger:   logging.WithComponent("persistence-gateway"),
	}
}

// Reconcile writes posts for ownerID according to opts. Invalid posts and
// repeated ids are skipped; a failed write is logged and counted as skipped.
func (g *Gateway) Reconcile(ctx context.Context, ownerID string, posts []*models.Post, opts Options) (*Result, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrMissingOwner
	}

	ctx, span := telemetry.StartSpan(ctx, "persist.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("owner_id", ownerID), attribute.Int("posts", len(posts)))

	result := &Result{Total: len(posts), SavedPosts: []*models.Post{}}

	batch := make([]*models.Post, 0, len(posts))
	inBatch := make(map[string]bool, len(posts))
	for _, p := range posts {
		if p == nil {
			result.SkippedCount++
			continue
		}
		if err := g.validate.Struct(p); err != nil {
			g.logger.Debug("Skipping invalid post", zap.String("post_id", p.ID), zap.Error(err))
			result.SkippedCount++
			continue
		}
		if inBatch[p.ID] {
			result.SkippedCount++
			continue
		}
		inBatch[p.ID] = true
		batch = append(batch, p.Clone())
	}

	if opts.PreserveThreadOrder {
		batch = thread.Arrange(batch)
	}

	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.ID
	}
	existing, err := g.store.ExistingIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up saved posts: %w", err)
	}

	now := g.clock.Now().UTC()
	for _, p := range batch {
		action := decide(existing[p.ID], opts)
		if action == outcomeSkip {
			result.SkippedCount++
			continue
		}

		if err := g.write(ctx, ownerID, p, action, now); err != nil {
			sentry.CaptureException(err)
			g.logger.Error("Failed to save post",
				zap.String("owner_id", ownerID),
				zap.String("post_id", p.ID),
				zap.Error(err))
			result.SkippedCount++
			continue
		}
		result.SavedCount++
		result.SavedPosts = append(result.SavedPosts, p)
	}

	g.logger.Info("Reconciled posts",
		zap.String("owner_id", ownerID),
		zap.Int("total", result.Total),
		zap.Int("saved", result.SavedCount),
		zap.Int("skipped", result.SkippedCount))
	return result, nil
}

func decide(exists bool, opts Options) outcome {
	switch {
	case !exists:
		return outcomeInsert
	case opts.SkipDuplicates:
		return outcomeSkip
	case opts.PreserveExisting:
		return outcomeMetadata
	}
	return outcomeReplace
}

func (g *Gateway) write(ctx context.Context, ownerID string, p *models.Post, action outcome, now time.Time) error {
	switch action {
	case outcomeInsert:
		if err := g.store.Insert(ctx, models.NewSavedPost(ownerID, p, now)); err != nil {
			return fmt.Errorf("failed to insert post %s: %w", p.ID, err)
		}
	case outcomeMetadata:
		if err := g.store.UpdateMetadata(ctx, ownerID, p, now); err != nil {
			return fmt.Errorf("failed to update post %s: %w", p.ID, err)
		}
	case outcomeReplace:
		if err := g.store.Replace(ctx, ownerID, p, now); err != nil {
			return fmt.Errorf("failed to replace post %s: %w", p.ID, err)
		}
	}
	return nil
}

// Delete removes one saved post. found is false when nothing was saved
// under that id.
func (g *Gateway) Delete(ctx context.Context, ownerID, postID string) (found bool, err error) {
	if strings.TrimSpace(ownerID) == "" {
		return false, ErrMissingOwner
	}
	found, err = g.store.DeleteByOwnerAndID(ctx, ownerID, postID)
	if err != nil {
		return false, fmt.Errorf("failed to delete post %s: %w", postID, err)
	}
	return found, nil
}

// DeleteByHandle removes every saved post authored by handle, for all owners.
func (g *Gateway) DeleteByHandle(ctx context.Context, handle string) (int64, error) {
	handle = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
	if handle == "" {
		return 0, ErrMissingHandle
	}
	n, err := g.store.DeleteByHandle(ctx, handle)
	if err != nil {
		return 0, fmt.Errorf("failed to delete posts by %s: %w", handle, err)
	}
	g.logger.Info("Deleted posts by handle", zap.String("handle", handle), zap.Int64("count", n))
	return n, nil
}

// List returns the posts saved by ownerID, newest first.
func (g *Gateway) List(ctx context.Context, ownerID string, limit int) ([]*models.Post, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrMissingOwner
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := g.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	posts := make([]*models.Post, len(rows))
	for i, row := range rows {
		posts[i] = row.ToPost()
	}
	return posts, nil
}
