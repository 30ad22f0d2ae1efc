package ports

import (
	"context"

	"rendezvous/internal/core/domain"
)

// Transport delivers named events to connected clients. Every call is
// fire-and-forget: implementations must not block the caller on network I/O.
type Transport interface {
	Send(connID domain.ConnectionID, event string, data interface{}) error
	Broadcast(except domain.ConnectionID, event string, data interface{})
	Disconnect(connID domain.ConnectionID) error
}

// PresenceNotifier mirrors registry changes to an external observer.
type PresenceNotifier interface {
	PeerJoined(ctx context.Context, record *domain.PeerRecord)
	PeerLeft(ctx context.Context, record *domain.PeerRecord)
}
