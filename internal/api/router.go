package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/internal/api/posts"
	"github.com/scripe/tweetsync/pkg/logging"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	posts   *posts.API
	checks  map[string]HealthChecker
	logger  *zap.Logger
}

// NewRouter creates a new API router. checks are consulted by the health
// endpoint, keyed by service name.
func NewRouter(postsAPI *posts.API, checks map[string]HealthChecker) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		posts:   postsAPI,
		checks:  checks,
		logger:  logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

func (r *Router) registerMethods() {
	r.handler.RegisterMethod("posts.ingest", r.posts.Ingest)
	r.handler.RegisterMethod("posts.save", r.posts.Save)
	r.handler.RegisterMethod("posts.delete", r.posts.Delete)
	r.handler.RegisterMethod("posts.delete_by_handle", r.posts.DeleteByHandle)
	r.handler.RegisterMethod("posts.list", r.posts.List)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	services := gin.H{}
	for name, check := range r.checks {
		if check == nil {
			continue
		}
		if err := check.Health(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
			services[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "OK"
	}

	state := "OK"
	if status != http.StatusOK {
		state = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":   state,
		"service":  "tweetsync-api",
		"services": services,
	})
}
