package distributed

import (
	"context"
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/pkg/batch"
	"rendezvous/pkg/circuitbreaker"
	"rendezvous/pkg/retry"
	"rendezvous/pkg/tracing"

	"go.uber.org/zap"
)

// PresenceStore is the sink the mirror writes batches to.
type PresenceStore interface {
	Apply(ctx context.Context, events []PresenceEvent) error
	Touch(ctx context.Context) error
	Clear(ctx context.Context) error
}

type MirrorConfig struct {
	BatchSize         int
	FlushInterval     time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Retry             retry.Config
	Breaker           circuitbreaker.Config
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		BatchSize:         50,
		FlushInterval:     200 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      5 * time.Second,
		Retry:             retry.DefaultConfig(),
		Breaker:           circuitbreaker.DefaultConfig(),
	}
}

// PresenceMirror implements ports.PresenceNotifier. Calls come from the
// signaling loop and only append to a batch; Redis I/O happens on the
// batcher goroutine.
type PresenceMirror struct {
	store      PresenceStore
	instanceID string
	cfg        MirrorConfig
	batcher    *batch.Batcher[PresenceEvent]
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
	onDropped  func(n int)
	now        func() time.Time

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
	closeOnce     sync.Once
}

type MirrorOption func(*PresenceMirror)

// WithDropCounter is told how many events were lost after retries ran out.
func WithDropCounter(fn func(n int)) MirrorOption {
	return func(m *PresenceMirror) {
		m.onDropped = fn
	}
}

func NewPresenceMirror(store PresenceStore, instanceID string, cfg MirrorConfig, logger *zap.SugaredLogger, opts ...MirrorOption) *PresenceMirror {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultMirrorConfig().WriteTimeout
	}
	m := &PresenceMirror{
		store:         store,
		instanceID:    instanceID,
		cfg:           cfg,
		logger:        logger,
		onDropped:     func(int) {},
		now:           time.Now,
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.breaker = circuitbreaker.New(cfg.Breaker, circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
		m.logger.Warnw("presence store breaker changed state",
			"from", from.String(),
			"to", to.String(),
			"instance_id", m.instanceID,
		)
	}))
	m.batcher = batch.NewBatcher(cfg.BatchSize, cfg.FlushInterval, m.flush,
		batch.WithErrorHandler(func(err error, events []PresenceEvent) {
			m.logger.Errorw("presence events dropped",
				"count", len(events),
				"instance_id", m.instanceID,
				"error", err,
			)
			m.onDropped(len(events))
		}),
	)
	go m.heartbeat()
	return m
}

func (m *PresenceMirror) PeerJoined(ctx context.Context, record *domain.PeerRecord) {
	m.enqueue(EventPeerJoined, record)
}

func (m *PresenceMirror) PeerLeft(ctx context.Context, record *domain.PeerRecord) {
	m.enqueue(EventPeerLeft, record)
}

func (m *PresenceMirror) enqueue(eventType EventType, record *domain.PeerRecord) {
	peer := *record
	if !m.batcher.Add(PresenceEvent{
		Type:       eventType,
		InstanceID: m.instanceID,
		Timestamp:  m.now(),
		Peer:       &peer,
	}) {
		m.logger.Debugw("presence mirror closed, event discarded", "type", eventType, "peer_id", record.PeerID)
	}
}

func (m *PresenceMirror) flush(ctx context.Context, events []PresenceEvent) error {
	ctx, span := tracing.TracePresenceOperation(ctx, "flush", len(events))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	// An open breaker fails the batch immediately instead of spending the
	// retry budget against a store that is known to be down.
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
			return m.store.Apply(ctx, events)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	m.logger.Debugw("presence events mirrored", "count", len(events))
	return nil
}

func (m *PresenceMirror) heartbeat() {
	defer close(m.heartbeatDone)
	if m.cfg.HeartbeatInterval <= 0 {
		<-m.stopHeartbeat
		return
	}

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopHeartbeat:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
			if err := m.breaker.Execute(ctx, m.store.Touch); err != nil {
				m.logger.Warnw("presence snapshot refresh failed", "error", err)
			}
			cancel()
		}
	}
}

// Close flushes queued events and removes this instance's snapshot, since
// none of its peers remain reachable once the process stops.
func (m *PresenceMirror) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopHeartbeat)
		<-m.heartbeatDone

		if err = m.batcher.Stop(ctx); err != nil {
			return
		}
		err = m.store.Clear(ctx)
	})
	return err
}
