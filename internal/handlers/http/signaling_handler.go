package http

import (
	"net/http"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// SignalingHandler exposes read-only views of the signaling state.
type SignalingHandler struct {
	registry ports.PeerRegistry
	now      func() time.Time
}

func NewSignalingHandler(registry ports.PeerRegistry, now func() time.Time) *SignalingHandler {
	if now == nil {
		now = time.Now
	}
	return &SignalingHandler{
		registry: registry,
		now:      now,
	}
}

func (h *SignalingHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/connections", h.ListConnections)
	router.GET("/clock", h.Clock)
}

// ListConnections returns the registered peers in admission order.
func (h *SignalingHandler) ListConnections(c *gin.Context) {
	peers := h.registry.Snapshot()
	if peers == nil {
		peers = []*domain.PeerRecord{}
	}
	c.JSON(http.StatusOK, peers)
}

func (h *SignalingHandler) Clock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"server": h.now()})
}
