package http

import (
	"net/http"
	"time"

	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	registry    ports.PeerRegistry
	connections ConnectionCounter
}

func NewHealthHandler(checker *monitoring.HealthChecker, registry ports.PeerRegistry, connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		registry:    registry,
		connections: connections,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health reports liveness; it never touches external dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      monitoring.StatusHealthy,
		"timestamp":   time.Now(),
		"uptime":      h.checker.Uptime().Round(time.Second).String(),
		"connections": h.connections.ConnectionCount(),
		"peers":       h.registry.Len(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
