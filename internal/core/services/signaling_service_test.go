package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type delivery struct {
	Event string
	Data  json.RawMessage
}

// fakeTransport records every delivery per recipient and mimics broadcast
// semantics over the set of open connections.
type fakeTransport struct {
	mu        sync.Mutex
	open      []domain.ConnectionID
	delivered map[domain.ConnectionID][]delivery
	closed    map[domain.ConnectionID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		delivered: make(map[domain.ConnectionID][]delivery),
		closed:    make(map[domain.ConnectionID]bool),
	}
}

func (f *fakeTransport) connect(ids ...domain.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = append(f.open, ids...)
}

func (f *fakeTransport) drop(id domain.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, open := range f.open {
		if open == id {
			f.open = append(f.open[:i], f.open[i+1:]...)
			return
		}
	}
}

func (f *fakeTransport) deliver(to domain.ConnectionID, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.delivered[to] = append(f.delivered[to], delivery{Event: event, Data: raw})
	return nil
}

func (f *fakeTransport) Send(connID domain.ConnectionID, event string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[connID] {
		return domain.ErrConnectionClosed
	}
	return f.deliver(connID, event, data)
}

func (f *fakeTransport) Broadcast(except domain.ConnectionID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.open {
		if id == except || f.closed[id] {
			continue
		}
		_ = f.deliver(id, event, data)
	}
}

func (f *fakeTransport) Disconnect(connID domain.ConnectionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[connID] = true
	return nil
}

func (f *fakeTransport) received(id domain.ConnectionID) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.delivered[id]...)
}

func (f *fakeTransport) isClosed(id domain.ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[id]
}

type metricsSpy struct {
	noopMetrics
	mu       sync.Mutex
	rejected int
	stale    int
	delays   []time.Duration
	dropped  []string
}

func (m *metricsSpy) PeerRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *metricsSpy) ProbeStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *metricsSpy) ProbeDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
}

func (m *metricsSpy) RelayDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, reason)
}

type harness struct {
	svc       *SignalingService
	transport *fakeTransport
	metrics   *metricsSpy
	registry  interface {
		Snapshot() []*domain.PeerRecord
		LookupByID(domain.PeerID) (*domain.PeerRecord, bool)
	}
}

func newHarness(t *testing.T, cfg SignalingConfig, opts ...SignalingOption) *harness {
	t.Helper()

	registry := memory.NewMemoryPeerRegistry()
	transport := newFakeTransport()
	spy := &metricsSpy{}
	opts = append([]SignalingOption{WithMetricsRecorder(spy)}, opts...)
	svc := NewSignalingService(registry, transport, cfg, zap.NewNop().Sugar(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	return &harness{svc: svc, transport: transport, metrics: spy, registry: registry}
}

// flush waits until every event queued so far has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, h.svc.submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("signaling loop did not drain")
	}
}

func (h *harness) ready(connID domain.ConnectionID, peerID, peerType string) {
	data, _ := json.Marshal(map[string]string{"peerId": peerID, "peerType": peerType})
	h.svc.Dispatch(connID, domain.EventReady, data)
}

func decode(t *testing.T, d delivery) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(d.Data, &out))
	return out
}

func TestSignaling_AdmissionAndDiscovery(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c-alice")

	h.ready("c-alice", "alice", "host")
	h.flush(t)

	aliceInbox := h.transport.received("c-alice")
	require.Len(t, aliceInbox, 1)
	assert.Equal(t, domain.EventMessage, aliceInbox[0].Event)
	first := decode(t, aliceInbox[0])
	assert.Equal(t, "ready", first["type"])
	assert.Equal(t, "all", first["from"])
	assert.Equal(t, "alice", first["target"])
	payload := first["payload"].(map[string]interface{})
	assert.Equal(t, "open", payload["action"])
	assert.Equal(t, false, payload["bePolite"])
	assert.Empty(t, payload["connections"])

	h.transport.connect("c-bob")
	h.ready("c-bob", "bob", "client")
	h.flush(t)

	t.Run("newcomer sees only pre-existing peers and is impolite", func(t *testing.T) {
		bobInbox := h.transport.received("c-bob")
		require.Len(t, bobInbox, 1)
		msg := decode(t, bobInbox[0])
		assert.Equal(t, "bob", msg["target"])
		payload := msg["payload"].(map[string]interface{})
		assert.Equal(t, false, payload["bePolite"])
		conns := payload["connections"].([]interface{})
		require.Len(t, conns, 1)
		peer := conns[0].(map[string]interface{})
		assert.Equal(t, "alice", peer["peerId"])
		assert.Equal(t, "c-alice", peer["socketId"])
		assert.Equal(t, "host", peer["peerType"])
	})

	t.Run("existing peer receives one polite announcement", func(t *testing.T) {
		aliceInbox := h.transport.received("c-alice")
		require.Len(t, aliceInbox, 2)
		msg := decode(t, aliceInbox[1])
		assert.Equal(t, "ready", msg["type"])
		assert.Equal(t, "bob", msg["from"])
		assert.Equal(t, "all", msg["target"])
		payload := msg["payload"].(map[string]interface{})
		assert.Equal(t, true, payload["bePolite"])
		conns := payload["connections"].([]interface{})
		require.Len(t, conns, 1)
		assert.Equal(t, "bob", conns[0].(map[string]interface{})["peerId"])
	})

	var ids []domain.PeerID
	for _, peer := range h.registry.Snapshot() {
		ids = append(ids, peer.PeerID)
	}
	assert.Equal(t, []domain.PeerID{"alice", "bob"}, ids)
}

func TestSignaling_DuplicatePeerIDRejected(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c-alice")

	h.ready("c-alice", "alice", "host")
	h.flush(t)
	h.transport.connect("c-intruder", "c-other")
	original, ok := h.registry.LookupByID("alice")
	require.True(t, ok)

	h.ready("c-intruder", "alice", "client")
	h.flush(t)

	inbox := h.transport.received("c-intruder")
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.EventUniquenessError, inbox[0].Event)
	assert.Contains(t, decode(t, inbox[0])["message"], "alice")
	assert.True(t, h.transport.isClosed("c-intruder"))

	current, ok := h.registry.LookupByID("alice")
	require.True(t, ok)
	assert.Same(t, original, current)
	assert.Len(t, h.registry.Snapshot(), 1)

	// nobody else hears about the rejected attempt
	assert.Len(t, h.transport.received("c-alice"), 1)
	assert.Empty(t, h.transport.received("c-other"))
	assert.Equal(t, 1, h.metrics.rejected)

	// the rejected connection closing must not announce a departure
	h.transport.drop("c-intruder")
	h.svc.Disconnect("c-intruder")
	h.flush(t)
	assert.Len(t, h.transport.received("c-alice"), 1)
	_, ok = h.registry.LookupByID("alice")
	assert.True(t, ok)
}

func TestSignaling_DisconnectCleanup(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c-alice", "c-bob", "c-carol")

	h.ready("c-alice", "alice", "host")
	h.ready("c-bob", "bob", "client")
	h.flush(t)

	h.transport.drop("c-alice")
	h.svc.Disconnect("c-alice")
	h.flush(t)

	_, ok := h.registry.LookupByID("alice")
	assert.False(t, ok)

	for _, id := range []domain.ConnectionID{"c-bob", "c-carol"} {
		var departures []map[string]interface{}
		for _, d := range h.transport.received(id) {
			msg := decode(t, d)
			if msg["type"] == "disconnect" {
				departures = append(departures, msg)
			}
		}
		require.Len(t, departures, 1, "connection %s", id)
		assert.Equal(t, "alice", departures[0]["from"])
		assert.Equal(t, "all", departures[0]["target"])
		payload := departures[0]["payload"].(map[string]interface{})
		assert.Equal(t, "close", payload["action"])
		assert.Equal(t, domain.DepartureReason, payload["message"])
	}

	// identifier is free again for a new connection
	h.transport.connect("c-alice-2")
	h.ready("c-alice-2", "alice", "host")
	h.flush(t)
	peer, ok := h.registry.LookupByID("alice")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("c-alice-2"), peer.ConnectionID)
}

func TestSignaling_DisconnectBeforeAdmissionIsSilent(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c-alice", "c-ghost")
	h.ready("c-alice", "alice", "host")
	h.flush(t)

	h.transport.drop("c-ghost")
	h.svc.Disconnect("c-ghost")
	h.flush(t)

	assert.Len(t, h.transport.received("c-alice"), 1)
	assert.Len(t, h.registry.Snapshot(), 1)
}

func TestSignaling_MessageRelayIsolation(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("x", "y", "z")

	payload := json.RawMessage(`{"sdp":"v=0","kind":"offer","nested":{"a":[1,2]}}`)
	h.svc.Dispatch("x", domain.EventMessage, payload)
	h.flush(t)

	assert.Empty(t, h.transport.received("x"))
	for _, id := range []domain.ConnectionID{"y", "z"} {
		inbox := h.transport.received(id)
		require.Len(t, inbox, 1)
		assert.Equal(t, domain.EventMessage, inbox[0].Event)
		assert.JSONEq(t, string(payload), string(inbox[0].Data))
	}
}

func TestSignaling_TargetedRelay(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c-alice", "c-bob", "c-carol")
	h.ready("c-alice", "alice", "host")
	h.ready("c-bob", "bob", "client")
	h.flush(t)

	before := map[domain.ConnectionID]int{}
	for _, id := range []domain.ConnectionID{"c-alice", "c-bob", "c-carol"} {
		before[id] = len(h.transport.received(id))
	}

	t.Run("known target only", func(t *testing.T) {
		payload := json.RawMessage(`{"target":"bob","from":"alice","candidate":"udp 1"}`)
		h.svc.Dispatch("c-alice", domain.EventMessageOne, payload)
		h.flush(t)

		bobInbox := h.transport.received("c-bob")
		require.Len(t, bobInbox, before["c-bob"]+1)
		assert.JSONEq(t, string(payload), string(bobInbox[len(bobInbox)-1].Data))
		assert.Len(t, h.transport.received("c-alice"), before["c-alice"])
		assert.Len(t, h.transport.received("c-carol"), before["c-carol"])
		before["c-bob"]++
	})

	t.Run("unknown target is dropped", func(t *testing.T) {
		h.svc.Dispatch("c-alice", domain.EventMessageOne, json.RawMessage(`{"target":"nobody"}`))
		h.flush(t)

		for id, count := range before {
			assert.Len(t, h.transport.received(id), count, "connection %s", id)
		}
		assert.Contains(t, h.metrics.dropped, "unknown_target")
	})

	t.Run("missing target is a no-op", func(t *testing.T) {
		h.svc.Dispatch("c-alice", domain.EventMessageOne, json.RawMessage(`{"payload":1}`))
		h.svc.Dispatch("c-alice", domain.EventMessageOne, json.RawMessage(`not json`))
		h.flush(t)

		for id, count := range before {
			assert.Len(t, h.transport.received(id), count, "connection %s", id)
		}
	})
}

func TestSignaling_MalformedReadyIsNoop(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c1", "c2")

	h.svc.Dispatch("c1", domain.EventReady, json.RawMessage(`{"peerType":"host"}`))
	h.svc.Dispatch("c1", domain.EventReady, nil)
	h.svc.Dispatch("c1", domain.EventReady, json.RawMessage(`[]`))
	h.svc.Dispatch("c1", "bogus", json.RawMessage(`{}`))
	h.flush(t)

	assert.Empty(t, h.transport.received("c1"))
	assert.Empty(t, h.transport.received("c2"))
	assert.Empty(t, h.registry.Snapshot())
}

func TestSignaling_ReadyAcceptsArgumentArray(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c1")

	h.svc.Dispatch("c1", domain.EventReady, json.RawMessage(`["alice", {"role":"host"}]`))
	h.flush(t)

	peer, ok := h.registry.LookupByID("alice")
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"host"}`, string(peer.PeerType))
}

func TestSignaling_SecondReadyOnSameConnectionIgnored(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.transport.connect("c1", "c2")

	h.ready("c1", "alice", "host")
	h.ready("c1", "alias", "host")
	h.flush(t)

	assert.Len(t, h.registry.Snapshot(), 1)
	assert.Len(t, h.transport.received("c1"), 1)
	assert.Len(t, h.transport.received("c2"), 1)
}

func TestSignaling_Clock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, SignalingConfig{}, WithClock(func() time.Time { return fixed }))
	h.transport.connect("c1", "c2")

	h.svc.Dispatch("c1", domain.EventClock, nil)
	h.flush(t)

	inbox := h.transport.received("c1")
	require.Len(t, inbox, 1)
	msg := decode(t, inbox[0])
	assert.Equal(t, "clock", msg["type"])
	assert.Equal(t, fixed.Format(time.RFC3339), msg["server"])
	assert.Empty(t, h.transport.received("c2"))
}

func TestSignaling_RunTwiceFails(t *testing.T) {
	h := newHarness(t, SignalingConfig{})
	h.flush(t)
	assert.Error(t, h.svc.Run(context.Background()))
}
