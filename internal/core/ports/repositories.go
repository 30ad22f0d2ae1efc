package ports

import (
	"rendezvous/internal/core/domain"
)

// PeerRegistry is the single source of truth for reachable peers.
// Insert is the only operation that enforces peer id uniqueness.
type PeerRegistry interface {
	LookupByID(id domain.PeerID) (*domain.PeerRecord, bool)
	LookupByConnection(connID domain.ConnectionID) (*domain.PeerRecord, bool)
	Insert(record *domain.PeerRecord) error
	Remove(id domain.PeerID)
	Snapshot() []*domain.PeerRecord
	Len() int
}
