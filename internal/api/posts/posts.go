package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/indexer"
	"github.com/scripe/tweetsync/internal/models"
	"github.com/scripe/tweetsync/internal/persist"
	"github.com/scripe/tweetsync/pkg/logging"
)

const invalidParamsCode = -32602

// Ingestor assembles the posts of a handle.
type Ingestor interface {
	Ingest(ctx context.Context, handle, ownerID string, opts indexer.Options) (*indexer.Result, error)
}

// Gateway persists posts for an owner.
type Gateway interface {
	Reconcile(ctx context.Context, ownerID string, posts []*models.Post, opts persist.Options) (*persist.Result, error)
	Delete(ctx context.Context, ownerID, postID string) (bool, error)
	DeleteByHandle(ctx context.Context, handle string) (int64, error)
	List(ctx context.Context, ownerID string, limit int) ([]*models.Post, error)
}

// paramError reports bad method parameters.
type paramError struct {
	err error
}

func (e *paramError) Error() string { return e.err.Error() }
func (e *paramError) Unwrap() error { return e.err }
func (e *paramError) RPCCode() int  { return invalidParamsCode }

func invalidParams(err error) error {
	return &paramError{err: err}
}

// API provides the posts.* JSON-RPC methods
type API struct {
	ingestor Ingestor
	gateway  Gateway
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAPI creates a new posts API
func NewAPI(ingestor Ingestor, gateway Gateway) *API {
	return &API{
		ingestor: ingestor,
		gateway:  gateway,
		validate: validator.New(),
		logger:   logging.WithComponent("posts-api"),
	}
}

type ingestParams struct {
	Handle            string `json:"handle" validate:"required"`
	OwnerID           string `json:"owner_id" validate:"required"`
	InitialFetchCount int    `json:"initial_fetch_count" validate:"omitempty,min=1,max=200"`
	MaxTotal          int    `json:"max_total" validate:"omitempty,min=1,max=1000"`
	Refresh           bool   `json:"refresh"`
}

// Ingest handles posts.ingest. While the ingest runs, whitespace is written
// and flushed on every heartbeat so the connection stays open; the JSON
// response follows it.
func (a *API) Ingest(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p ingestParams
	if err := a.decode(params, &p); err != nil {
		return nil, err
	}

	opts := indexer.Options{
		InitialFetchCount: p.InitialFetchCount,
		MaxTotal:          p.MaxTotal,
		SkipCache:         p.Refresh,
		Heartbeat:         func() { keepAlive(ctx) },
	}
	result, err := a.ingestor.Ingest(ctx.Request.Context(), p.Handle, p.OwnerID, opts)
	if err != nil {
		return nil, classify(err)
	}
	a.logger.Debug("Ingest served",
		zap.String("handle", result.Handle),
		zap.Int("count", result.Count),
		zap.Bool("cached", result.Cached))
	return result, nil
}

type saveParams struct {
	OwnerID             string         `json:"owner_id" validate:"required"`
	Posts               []*models.Post `json:"posts" validate:"required"`
	SkipDuplicates      *bool          `json:"skip_duplicates"`
	PreserveExisting    *bool          `json:"preserve_existing"`
	PreserveThreadOrder *bool          `json:"preserve_thread_order"`
}

func (p saveParams) options() persist.Options {
	opts := persist.DefaultOptions()
	if p.SkipDuplicates != nil {
		opts.SkipDuplicates = *p.SkipDuplicates
	}
	if p.PreserveExisting != nil {
		opts.PreserveExisting = *p.PreserveExisting
	}
	if p.PreserveThreadOrder != nil {
		opts.PreserveThreadOrder = *p.PreserveThreadOrder
	}
	return opts
}

// Save handles posts.save
func (a *API) Save(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p saveParams
	if err := a.decode(params, &p); err != nil {
		return nil, err
	}

	result, err := a.gateway.Reconcile(ctx.Request.Context(), p.OwnerID, p.Posts, p.options())
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

type deleteParams struct {
	OwnerID string `json:"owner_id" validate:"required"`
	PostID  string `json:"post_id" validate:"required"`
}

// Delete handles posts.delete
func (a *API) Delete(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p deleteParams
	if err := a.decode(params, &p); err != nil {
		return nil, err
	}

	found, err := a.gateway.Delete(ctx.Request.Context(), p.OwnerID, p.PostID)
	if err != nil {
		return nil, classify(err)
	}
	return gin.H{"deleted": found}, nil
}

type deleteByHandleParams struct {
	Handle string `json:"handle" validate:"required"`
}

// DeleteByHandle handles posts.delete_by_handle
func (a *API) DeleteByHandle(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p deleteByHandleParams
	if err := a.decode(params, &p); err != nil {
		return nil, err
	}

	n, err := a.gateway.DeleteByHandle(ctx.Request.Context(), p.Handle)
	if err != nil {
		return nil, classify(err)
	}
	return gin.H{"deleted": n}, nil
}

type listParams struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Limit   int    `json:"limit" validate:"omitempty,min=1,max=500"`
}

// List handles posts.list
func (a *API) List(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p listParams
	if err := a.decode(params, &p); err != nil {
		return nil, err
	}

	posts, err := a.gateway.List(ctx.Request.Context(), p.OwnerID, p.Limit)
	if err != nil {
		return nil, classify(err)
	}
	return gin.H{"posts": posts, "count": len(posts)}, nil
}

func (a *API) decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return invalidParams(fmt.Errorf("missing parameters"))
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams(fmt.Errorf("invalid parameters format: %w", err))
	}
	if err := a.validate.Struct(v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, indexer.ErrMissingHandle),
		errors.Is(err, persist.ErrMissingOwner),
		errors.Is(err, persist.ErrMissingHandle):
		return invalidParams(err)
	}
	return err
}

func keepAlive(c *gin.Context) {
	if !c.Writer.Written() {
		c.Header("Content-Type", "application/json; charset=utf-8")
	}
	if _, err := c.Writer.WriteString(" "); err != nil {
		return
	}
	c.Writer.Flush()
}
