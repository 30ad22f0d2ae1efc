package memory

import (
	"fmt"
	"sync"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
)

// MemoryPeerRegistry keeps peers in insertion order. Records are stored by
// pointer and never modified after Insert.
type MemoryPeerRegistry struct {
	peers  map[domain.PeerID]*domain.PeerRecord
	byConn map[domain.ConnectionID]domain.PeerID
	order  []domain.PeerID
	mu     sync.RWMutex
}

func NewMemoryPeerRegistry() ports.PeerRegistry {
	return &MemoryPeerRegistry{
		peers:  make(map[domain.PeerID]*domain.PeerRecord),
		byConn: make(map[domain.ConnectionID]domain.PeerID),
	}
}

func (r *MemoryPeerRegistry) LookupByID(id domain.PeerID) (*domain.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, exists := r.peers[id]
	return peer, exists
}

func (r *MemoryPeerRegistry) LookupByConnection(connID domain.ConnectionID) (*domain.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byConn[connID]
	if !exists {
		return nil, false
	}
	return r.peers[id], true
}

func (r *MemoryPeerRegistry) Insert(record *domain.PeerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[record.PeerID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrPeerAlreadyExists, record.PeerID)
	}
	if owner, exists := r.byConn[record.ConnectionID]; exists {
		return fmt.Errorf("%w: connection %s already registered as %s",
			domain.ErrPeerAlreadyExists, record.ConnectionID, owner)
	}

	r.peers[record.PeerID] = record
	r.byConn[record.ConnectionID] = record.PeerID
	r.order = append(r.order, record.PeerID)
	return nil
}

func (r *MemoryPeerRegistry) Remove(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, exists := r.peers[id]
	if !exists {
		return
	}

	delete(r.peers, id)
	delete(r.byConn, peer.ConnectionID)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns a fresh slice; callers may keep it.
func (r *MemoryPeerRegistry) Snapshot() []*domain.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*domain.PeerRecord, 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.peers[id])
	}
	return snapshot
}

func (r *MemoryPeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
