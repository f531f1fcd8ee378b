package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
)

var (
	metadataColumns = []string{
		"author", "author_handle", "media", "conversation_id", "thread_id",
		"thread_index", "thread_position", "is_root_post", "category", "updated_at",
	}
	contentColumns = []string{
		"text", "display_text", "post_created_at", "metrics",
		"in_reply_to_author_id", "in_reply_to_post_id",
		"is_long", "is_self_thread", "is_retweet", "retweeted_post", "is_quote", "quoted_post",
	}
)

var _ persist.Store = (*PostRepository)(nil)

// PostRepository stores saved posts in a SQL database.
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// ExistingIDs reports which of ids ownerID has saved.
func (r *PostRepository) ExistingIDs(ctx context.Context, ownerID string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var saved []string
	if err := r.db.WithContext(ctx).Model(&models.SavedPost{}).
		Where("owner_id = ? AND post_id IN ?", ownerID, ids).
		Pluck("post_id", &saved).Error; err != nil {
		return nil, err
	}
	for _, id := range saved {
		found[id] = true
	}
	return found, nil
}

// Insert creates a new saved post
func (r *PostRepository) Insert(ctx context.Context, row *models.SavedPost) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// UpdateMetadata rewrites the author snapshot, media and thread fields.
func (r *PostRepository) UpdateMetadata(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	row := &models.SavedPost{UpdatedAt: now}
	row.ApplyMetadata(p)
	return r.update(ctx, ownerID, p.ID, row, metadataColumns)
}

// Replace overwrites every post field.
func (r *PostRepository) Replace(ctx context.Context, ownerID string, p *models.Post, now time.Time) error {
	row := &models.SavedPost{UpdatedAt: now}
	row.ApplyContent(p)
	row.ApplyMetadata(p)
	return r.update(ctx, ownerID, p.ID, row, append(append([]string{}, contentColumns...), metadataColumns...))
}

// update writes the selected columns, including zero values.
func (r *PostRepository) update(ctx context.Context, ownerID, postID string, row *models.SavedPost, columns []string) error {
	return r.db.WithContext(ctx).Model(&models.SavedPost{}).
		Where("owner_id = ? AND post_id = ?", ownerID, postID).
		Select(columns).
		Updates(row).Error
}

// DeleteByOwnerAndID removes one saved post.
func (r *PostRepository) DeleteByOwnerAndID(ctx context.Context, ownerID, postID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND post_id = ?", ownerID, postID).
		Delete(&models.SavedPost{})
	return res.RowsAffected > 0, res.Error
}

// DeleteByHandle removes every saved post by a lower-cased author handle.
func (r *PostRepository) DeleteByHandle(ctx context.Context, handle string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("author_handle = ?", handle).
		Delete(&models.SavedPost{})
	return res.RowsAffected, res.Error
}

// ListByOwner returns the newest saved posts of ownerID. Equal timestamps
// order numeric ids by value: longer ids first, then lexicographically.
func (r *PostRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.SavedPost, error) {
	var rows []*models.SavedPost
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("post_created_at DESC").
		Order("LENGTH(post_id) DESC").
		Order("post_id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetByOwnerAndID retrieves one saved post
func (r *PostRepository) GetByOwnerAndID(ctx context.Context, ownerID, postID string) (*models.SavedPost, error) {
	var row models.SavedPost
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND post_id = ?", ownerID, postID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
