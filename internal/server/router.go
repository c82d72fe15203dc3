package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"vanish-drop/internal/auth"
	"vanish-drop/internal/content"
	"vanish-drop/internal/handler"
	"vanish-drop/internal/hub"
	"vanish-drop/internal/membership"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/middleware"
	"vanish-drop/internal/ratelimit"
	"vanish-drop/internal/store"
)

// DefaultAPIRateLimit paces admin API clients per IP. It is looser than the
// chat limiter since dashboards issue a few requests at once.
var DefaultAPIRateLimit = ratelimit.Config{
	Window:         250 * time.Millisecond,
	BurstThreshold: 20,
	BlockDuration:  time.Minute,
}

type Deps struct {
	Store      *store.Store
	Registry   *content.Registry
	Gate       *membership.Gate
	Hub        *hub.Hub
	Metrics    *metrics.Metrics
	Broadcasts handler.BroadcastStarter
	Cleanups   handler.Pending

	// TokenConfig.Secret empty leaves the /v1 group unmounted.
	TokenConfig auth.TokenConfig
	APILimiter  *ratelimit.Limiter[string]

	// Webhook is nil in polling mode.
	Webhook *handler.WebhookHandler

	Version   string
	StartedAt time.Time
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	healthHandler := &handler.HealthHandler{Version: deps.Version, StartedAt: deps.StartedAt, Cleanups: deps.Cleanups}
	r.GET("/health", healthHandler.Check)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Webhook != nil {
		r.POST("/telegram/webhook", deps.Webhook.Receive)
	}

	if deps.TokenConfig.Secret == "" {
		return r
	}

	limiter := deps.APILimiter
	if limiter == nil {
		limiter = ratelimit.New[string](DefaultAPIRateLimit)
	}
	protected := r.Group("/v1")
	protected.Use(middleware.RateLimitMiddleware(limiter))
	protected.Use(middleware.RequireAuth(deps.TokenConfig, deps.Store))

	bundleHandler := &handler.BundleHandler{Registry: deps.Registry}
	protected.GET("/bundles", bundleHandler.List)
	protected.DELETE("/bundles/:code", bundleHandler.Revoke)

	requirementHandler := &handler.RequirementHandler{Gate: deps.Gate}
	protected.GET("/requirements", requirementHandler.List)
	protected.POST("/requirements", requirementHandler.Create)
	protected.DELETE("/requirements/:id", requirementHandler.Delete)

	userHandler := &handler.UserHandler{Store: deps.Store}
	protected.GET("/users", userHandler.List)
	protected.POST("/users/:id/block", userHandler.Block)
	protected.POST("/users/:id/unblock", userHandler.Unblock)

	broadcastHandler := &handler.BroadcastHandler{Starter: deps.Broadcasts}
	protected.POST("/broadcast", broadcastHandler.Start)

	deliveryHandler := &handler.DeliveryHandler{Store: deps.Store}
	protected.GET("/deliveries", deliveryHandler.List)

	eventsHandler := &handler.EventsHandler{Hub: deps.Hub}
	protected.GET("/events", eventsHandler.Serve)

	return r
}
