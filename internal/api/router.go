package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/deskwise/deskwise/internal/app"
	iauth "github.com/deskwise/deskwise/internal/auth"
	"github.com/deskwise/deskwise/internal/handlers"
	"github.com/deskwise/deskwise/internal/middleware"
	"github.com/deskwise/deskwise/internal/monitoring"
	"github.com/deskwise/deskwise/internal/notifications"
	"github.com/deskwise/deskwise/internal/realtime"
)

// Deps bundles the long-lived pipeline collaborators the router wires into
// handlers. Every field may be nil; a missing piece disables the matching
// surface instead of failing router construction.
type Deps struct {
	Hub        *realtime.Hub
	Sender     *notifications.WebPushSender
	Dispatcher *notifications.Dispatcher
	Unread     *notifications.UnreadCache
	RateStore  middleware.RateStore
	Monitoring *monitoring.Module
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}
	// Basic rate limiting: 100 requests/minute per IP+path
	if deps.RateStore != nil {
		r.Use(middleware.RateLimitWithStore(deps.RateStore, 100, time.Minute))
	} else {
		r.Use(middleware.RateLimit(100, time.Minute))
	}

	registerHealthRoutes(r, cfg, deps.Monitoring)

	notificationHandler, err := handlers.NewNotificationHandler(db, deps.Dispatcher, deps.Unread, deps.Hub)
	if err != nil {
		return nil, err
	}
	pushHandler, err := handlers.NewPushSubscriptionHandler(db, deps.Sender)
	if err != nil {
		return nil, err
	}

	// WebSocket upgrades authenticate with a query token because browsers
	// cannot attach headers to upgrade requests, so the stream endpoints sit
	// outside the bearer middleware.
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, jwt,
		realtime.StreamNotifications, realtime.StreamAnnouncements)
	r.GET("/api/notifications/stream", realtimeHandler.Stream)
	r.GET("/ws/:stream", realtimeHandler.Stream)

	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	registerNotificationRoutes(api, notificationHandler, pushHandler)
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg))

	// Metrics endpoint. One scrape surface gathers both the process-wide
	// collectors and the monitoring module's registry.
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		metricsHandler := promhttp.Handler()
		if deps.Monitoring != nil {
			gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, deps.Monitoring.Registry()}
			metricsHandler = promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
		}
		r.GET(endpoint, gin.WrapH(metricsHandler))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
