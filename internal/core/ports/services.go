package ports

import (
	"encoding/json"

	"rendezvous/internal/core/domain"
)

// SignalingService is what the transport drives. Calls only enqueue work;
// handlers run one at a time on the service's own loop.
type SignalingService interface {
	Connect(connID domain.ConnectionID)
	Dispatch(connID domain.ConnectionID, event string, data json.RawMessage)
	Disconnect(connID domain.ConnectionID)
}
