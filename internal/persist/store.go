// Package persist reconciles fetched posts with what an owner already has
// saved and writes one outcome per post id.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/scripe/tweetsync/internal/models"
)

var (
	// ErrMissingOwner is returned when no owning user is given.
	ErrMissingOwner = errors.New("owner id is required")
	// ErrMissingHandle is returned by DeleteByHandle without a handle.
	ErrMissingHandle = errors.New("handle is required")
)

// Store is the storage the gateway writes through. Implementations must
// enforce uniqueness of (owner id, post id).
type Store interface {
	// ExistingIDs reports which of ids are already saved for ownerID.
	ExistingIDs(ctx context.Context, ownerID string, ids []string) (map[string]bool, error)
	Insert(ctx context.Context, row *models.SavedPost) error
	// UpdateMetadata rewrites only the author snapshot, media and thread
	// grouping fields of an existing row.
	UpdateMetadata(ctx context.Context, ownerID string, p *models.Post, now time.Time) error
	// Replace overwrites every post field of an existing row.
	Replace(ctx context.Context, ownerID string, p *models.Post, now time.Time) error

	DeleteByOwnerAndID(ctx context.Context, ownerID, postID string) (bool, error)
	DeleteByHandle(ctx context.Context, handle string) (int64, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.SavedPost, error)
}
