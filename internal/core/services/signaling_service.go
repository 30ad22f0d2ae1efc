package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	"rendezvous/pkg/tracing"
	"rendezvous/pkg/validation"

	"go.uber.org/zap"
)

const defaultEventQueueSize = 256

type SignalingConfig struct {
	// ProbeInterval enables the latency probe when positive.
	ProbeInterval time.Duration
	// MaxCountdownOutOf rejects countdown requests above this bound; 0 means no bound.
	MaxCountdownOutOf int
	// CancelCountdownOnDisconnect stops a connection's countdowns when it leaves.
	CancelCountdownOnDisconnect bool
	EventQueueSize              int
}

// SignalingService routes signaling events between connections. Every
// handler, timer tick included, runs on the goroutine started by Run, so a
// registry read followed by a write inside one handler is atomic with
// respect to every other handler.
type SignalingService struct {
	registry  ports.PeerRegistry
	transport ports.Transport
	presence  ports.PresenceNotifier
	metrics   MetricsRecorder
	logger    *zap.SugaredLogger
	cfg       SignalingConfig

	events  chan func()
	done    chan struct{}
	running sync.Once
	stopped sync.Once

	probe      *latencyProbe
	countdowns map[domain.ConnectionID]map[*countdown]struct{}

	now func() time.Time
}

type SignalingOption func(*SignalingService)

func WithPresenceNotifier(presence ports.PresenceNotifier) SignalingOption {
	return func(s *SignalingService) {
		s.presence = presence
	}
}

func WithMetricsRecorder(metrics MetricsRecorder) SignalingOption {
	return func(s *SignalingService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) SignalingOption {
	return func(s *SignalingService) {
		s.now = now
	}
}

func NewSignalingService(
	registry ports.PeerRegistry,
	transport ports.Transport,
	cfg SignalingConfig,
	logger *zap.SugaredLogger,
	opts ...SignalingOption,
) *SignalingService {
	queueSize := cfg.EventQueueSize
	if queueSize <= 0 {
		queueSize = defaultEventQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &SignalingService{
		registry:   registry,
		transport:  transport,
		metrics:    noopMetrics{},
		logger:     logger,
		cfg:        cfg,
		events:     make(chan func(), queueSize),
		done:       make(chan struct{}),
		countdowns: make(map[domain.ConnectionID]map[*countdown]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.ProbeInterval > 0 {
		s.probe = newLatencyProbe(cfg.ProbeInterval)
	}
	return s
}

// ProbeEnabled reports whether ping events are produced and consumed.
func (s *SignalingService) ProbeEnabled() bool {
	return s.probe != nil
}

// Run drains the event queue until ctx is cancelled. It must be called once.
func (s *SignalingService) Run(ctx context.Context) error {
	started := false
	s.running.Do(func() { started = true })
	if !started {
		return fmt.Errorf("signaling service already running")
	}
	defer s.shutdown()

	if s.probe != nil {
		go s.runProbeTicker(ctx)
		s.logger.Infow("latency probe enabled", "interval", s.cfg.ProbeInterval)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.events:
			fn()
		}
	}
}

func (s *SignalingService) shutdown() {
	s.stopped.Do(func() {
		close(s.done)
	})
	for connID, active := range s.countdowns {
		for cd := range active {
			cd.stop()
		}
		delete(s.countdowns, connID)
	}
}

// submit queues fn for the run loop. It returns false once the loop has stopped.
func (s *SignalingService) submit(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *SignalingService) Connect(connID domain.ConnectionID) {
	s.submit(func() {
		s.metrics.ConnectionOpened()
		s.logger.Infow("connection opened", "connection_id", connID)
	})
}

func (s *SignalingService) Dispatch(connID domain.ConnectionID, event string, data json.RawMessage) {
	s.submit(func() {
		s.handleEvent(connID, event, data)
	})
}

func (s *SignalingService) Disconnect(connID domain.ConnectionID) {
	s.submit(func() {
		s.metrics.ConnectionClosed()
		s.handleDisconnect(connID)
	})
}

func (s *SignalingService) handleEvent(connID domain.ConnectionID, event string, data json.RawMessage) {
	_, span := tracing.TraceWebSocketMessage(context.Background(), event, string(connID))
	defer span.End()

	var err error
	switch event {
	case domain.EventReady:
		err = s.handleReady(connID, data)
	case domain.EventMessage:
		s.handleMessage(connID, data)
	case domain.EventMessageOne:
		err = s.handleMessageOne(connID, data)
	case domain.EventCountdown:
		err = s.handleCountdown(connID, data)
	case domain.EventClock:
		s.handleClock(connID)
	case domain.EventPing:
		if s.probe == nil {
			s.logger.Debugw("ignoring ping reply, probe disabled", "connection_id", connID)
			return
		}
		err = s.handleProbeReply(connID, data)
	default:
		err = fmt.Errorf("%w: %s", domain.ErrUnknownEvent, event)
	}

	if err != nil {
		s.logger.Warnw("event ignored",
			"connection_id", connID,
			"event", event,
			"error", err,
		)
	}
}

func (s *SignalingService) handleReady(connID domain.ConnectionID, data json.RawMessage) error {
	var req domain.ReadyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: ready: %v", domain.ErrMalformedPayload, err)
	}
	if err := validation.ValidatePeerID(string(req.PeerID)); err != nil {
		return fmt.Errorf("%w: ready: %v", domain.ErrMalformedPayload, err)
	}

	if existing, ok := s.registry.LookupByConnection(connID); ok {
		return fmt.Errorf("connection already registered as %s", existing.PeerID)
	}

	if _, exists := s.registry.LookupByID(req.PeerID); exists {
		s.rejectDuplicate(connID, req.PeerID)
		return nil
	}

	// The snapshot is taken before the newcomer is inserted so it only lists
	// peers that were already present.
	existing := s.registry.Snapshot()
	if err := s.transport.Send(connID, domain.EventMessage, domain.RoutedMessage{
		Type:   domain.MessageTypeReady,
		From:   domain.AddressAll,
		Target: req.PeerID,
		Payload: domain.OpenPayload{
			Action:      domain.ActionOpen,
			Connections: existing,
			BePolite:    false,
		},
	}); err != nil {
		s.logger.Warnw("failed to send ready snapshot", "connection_id", connID, "error", err)
	}

	record := &domain.PeerRecord{
		ConnectionID: connID,
		PeerID:       req.PeerID,
		PeerType:     req.PeerType,
	}
	if err := s.registry.Insert(record); err != nil {
		return fmt.Errorf("insert peer: %w", err)
	}

	s.transport.Broadcast(connID, domain.EventMessage, domain.RoutedMessage{
		Type:   domain.MessageTypeReady,
		From:   req.PeerID,
		Target: domain.AddressAll,
		Payload: domain.OpenPayload{
			Action:      domain.ActionOpen,
			Connections: []*domain.PeerRecord{record},
			BePolite:    true,
		},
	})

	s.metrics.PeerRegistered()
	if s.presence != nil {
		s.presence.PeerJoined(context.Background(), record)
	}
	s.logger.Infow("peer registered",
		"peer_id", req.PeerID,
		"connection_id", connID,
		"known_peers", len(existing),
	)
	return nil
}

func (s *SignalingService) rejectDuplicate(connID domain.ConnectionID, peerID domain.PeerID) {
	msg := domain.UniquenessError{
		Message: fmt.Sprintf("%s is already connected to the signalling server. Please change your peer ID and try again.", peerID),
	}
	if err := s.transport.Send(connID, domain.EventUniquenessError, msg); err != nil {
		s.logger.Warnw("failed to send uniqueness error", "connection_id", connID, "error", err)
	}
	if err := s.transport.Disconnect(connID); err != nil {
		s.logger.Warnw("failed to close rejected connection", "connection_id", connID, "error", err)
	}

	s.metrics.PeerRejected()
	s.logger.Infow("peer id already taken, connection rejected",
		"peer_id", peerID,
		"connection_id", connID,
	)
}

func (s *SignalingService) handleMessage(connID domain.ConnectionID, data json.RawMessage) {
	s.transport.Broadcast(connID, domain.EventMessage, data)
	s.metrics.MessageRelayed(domain.EventMessage)
	s.logger.Debugw("relayed message", "connection_id", connID, "size", len(data))
}

func (s *SignalingService) handleMessageOne(connID domain.ConnectionID, data json.RawMessage) error {
	var msg domain.TargetedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: messageOne: %v", domain.ErrMalformedPayload, err)
	}
	if msg.Target == "" {
		return fmt.Errorf("%w: messageOne: target is required", domain.ErrMalformedPayload)
	}

	target, ok := s.registry.LookupByID(msg.Target)
	if !ok {
		s.metrics.RelayDropped("unknown_target")
		s.logger.Infow("target not found", "target", msg.Target, "connection_id", connID)
		return nil
	}

	if err := s.transport.Send(target.ConnectionID, domain.EventMessage, data); err != nil {
		s.metrics.RelayDropped("send_failed")
		s.logger.Infow("targeted relay failed", "target", msg.Target, "error", err)
		return nil
	}
	s.metrics.MessageRelayed(domain.EventMessageOne)
	return nil
}

func (s *SignalingService) handleClock(connID domain.ConnectionID) {
	if err := s.transport.Send(connID, domain.EventMessage, domain.ClockMessage{
		Type:   domain.MessageTypeClock,
		Server: s.now(),
	}); err != nil {
		s.logger.Debugw("failed to send clock", "connection_id", connID, "error", err)
	}
}

func (s *SignalingService) handleDisconnect(connID domain.ConnectionID) {
	if s.cfg.CancelCountdownOnDisconnect {
		s.cancelCountdowns(connID)
	}

	peer, ok := s.registry.LookupByConnection(connID)
	if !ok {
		s.logger.Infow("connection closed", "connection_id", connID)
		return
	}

	// Announce first, then remove; both happen inside this handler so no
	// other handler can observe the departed peer afterwards.
	s.transport.Broadcast(connID, domain.EventMessage, domain.RoutedMessage{
		Type:   domain.MessageTypeDisconnect,
		From:   peer.PeerID,
		Target: domain.AddressAll,
		Payload: domain.ClosePayload{
			Action:  domain.ActionClose,
			Message: domain.DepartureReason,
		},
	})
	s.registry.Remove(peer.PeerID)

	s.metrics.PeerDeparted()
	if s.presence != nil {
		s.presence.PeerLeft(context.Background(), peer)
	}
	s.logger.Infow("peer disconnected", "peer_id", peer.PeerID, "connection_id", connID)
}
