package memory

import (
	"errors"
	"testing"

	"rendezvous/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(peerID, connID string) *domain.PeerRecord {
	return &domain.PeerRecord{
		PeerID:       domain.PeerID(peerID),
		ConnectionID: domain.ConnectionID(connID),
	}
}

func TestMemoryPeerRegistry_InsertAndLookup(t *testing.T) {
	registry := NewMemoryPeerRegistry()

	require.NoError(t, registry.Insert(record("alice", "c1")))

	peer, ok := registry.LookupByID("alice")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("c1"), peer.ConnectionID)

	peer, ok = registry.LookupByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, domain.PeerID("alice"), peer.PeerID)

	_, ok = registry.LookupByID("bob")
	assert.False(t, ok)
	_, ok = registry.LookupByConnection("c2")
	assert.False(t, ok)
}

func TestMemoryPeerRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewMemoryPeerRegistry()
	original := record("alice", "c1")
	require.NoError(t, registry.Insert(original))

	t.Run("same peer id", func(t *testing.T) {
		err := registry.Insert(record("alice", "c2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrPeerAlreadyExists))

		peer, _ := registry.LookupByID("alice")
		assert.Same(t, original, peer)
		_, ok := registry.LookupByConnection("c2")
		assert.False(t, ok)
	})

	t.Run("same connection", func(t *testing.T) {
		err := registry.Insert(record("bob", "c1"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrPeerAlreadyExists))
		_, ok := registry.LookupByID("bob")
		assert.False(t, ok)
	})

	assert.Equal(t, 1, registry.Len())
}

func TestMemoryPeerRegistry_SnapshotKeepsInsertionOrder(t *testing.T) {
	registry := NewMemoryPeerRegistry()
	for i, id := range []string{"zed", "alice", "mike", "bob"} {
		require.NoError(t, registry.Insert(record(id, string(rune('a'+i)))))
	}

	registry.Remove("alice")
	require.NoError(t, registry.Insert(record("alice", "z")))

	var ids []domain.PeerID
	for _, peer := range registry.Snapshot() {
		ids = append(ids, peer.PeerID)
	}
	assert.Equal(t, []domain.PeerID{"zed", "mike", "bob", "alice"}, ids)
}

func TestMemoryPeerRegistry_RemoveFreesIdentifierAndConnection(t *testing.T) {
	registry := NewMemoryPeerRegistry()
	require.NoError(t, registry.Insert(record("alice", "c1")))

	registry.Remove("alice")
	registry.Remove("alice")

	_, ok := registry.LookupByConnection("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.Snapshot())

	require.NoError(t, registry.Insert(record("alice", "c2")))
}

func TestMemoryPeerRegistry_SnapshotIsDetached(t *testing.T) {
	registry := NewMemoryPeerRegistry()
	require.NoError(t, registry.Insert(record("alice", "c1")))

	snapshot := registry.Snapshot()
	require.NoError(t, registry.Insert(record("bob", "c2")))

	assert.Len(t, snapshot, 1)
	assert.Len(t, registry.Snapshot(), 2)
}
