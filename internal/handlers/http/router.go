package http

import (
	"net/http"
	"os"

	"rendezvous/internal/core/ports"
	"rendezvous/internal/core/services"
	"rendezvous/internal/infrastructure/middleware"
	"rendezvous/internal/infrastructure/monitoring"
	"rendezvous/pkg/config"
	"rendezvous/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebSocketEndpoint is the transport side of the router: it upgrades
// requests and knows how many sockets are open.
type WebSocketEndpoint interface {
	ConnectionCounter
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

type RouterDeps struct {
	Config    *config.Config
	Logger    *zap.SugaredLogger
	Auth      services.AuthService
	Registry  ports.PeerRegistry
	WebSocket WebSocketEndpoint
	Health    *monitoring.HealthChecker
	// Metrics is served at /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter assembles the HTTP surface: the authenticated WebSocket
// endpoint, the read-only JSON endpoints and static assets.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	log := deps.Logger

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(log.Desugar())),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Signal.Path,
		middleware.NewConnectionRateLimitMiddleware(cfg),
		middleware.AuthMiddleware(deps.Auth, log),
		gin.WrapF(deps.WebSocket.HandleWebSocket),
	)

	api := router.Group("/")
	api.Use(
		middleware.CORSMiddleware(cfg.Auth.AllowedOrigins),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	NewSignalingHandler(deps.Registry, nil).SetupRoutes(api)
	NewHealthHandler(deps.Health, deps.Registry, deps.WebSocket).SetupRoutes(api)
	NewAuthHandler(deps.Auth).SetupRoutes(api)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	if dir := cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			files := http.FileServer(http.Dir(dir))
			router.NoRoute(func(c *gin.Context) {
				if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
					c.Status(http.StatusNotFound)
					return
				}
				files.ServeHTTP(c.Writer, c.Request)
			})
			log.Infow("serving static assets", "dir", dir)
		}
	}

	return router
}
