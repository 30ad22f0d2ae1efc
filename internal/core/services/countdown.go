package services

import (
	"encoding/json"
	"fmt"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/pkg/validation"
)

// countdown is owned by the connection that started it. Its ticks run on the
// service loop; the goroutine only forwards timer fires.
type countdown struct {
	connID     domain.ConnectionID
	count      int
	outOf      int
	intervalMs int

	ticker  *time.Ticker
	quit    chan struct{}
	stopped bool
}

func (c *countdown) stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	c.ticker.Stop()
	close(c.quit)
}

func (s *SignalingService) handleCountdown(connID domain.ConnectionID, data json.RawMessage) error {
	var req domain.CountdownRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: countdown: %v", domain.ErrMalformedPayload, err)
	}
	if req.OutOf == nil || req.IntervalMs == nil {
		return fmt.Errorf("%w: countdown: outOf and intervalMs are required", domain.ErrMalformedPayload)
	}
	if err := validation.ValidateCountdown(*req.OutOf, *req.IntervalMs, s.cfg.MaxCountdownOutOf); err != nil {
		return fmt.Errorf("%w: countdown: %v", domain.ErrMalformedPayload, err)
	}

	cd := &countdown{
		connID:     connID,
		outOf:      *req.OutOf,
		intervalMs: *req.IntervalMs,
		ticker:     time.NewTicker(time.Duration(*req.IntervalMs) * time.Millisecond),
		quit:       make(chan struct{}),
	}
	active, ok := s.countdowns[connID]
	if !ok {
		active = make(map[*countdown]struct{})
		s.countdowns[connID] = active
	}
	active[cd] = struct{}{}

	go s.forwardCountdownTicks(cd)

	s.metrics.CountdownStarted()
	s.logger.Infow("countdown started",
		"connection_id", connID,
		"out_of", cd.outOf,
		"interval_ms", cd.intervalMs,
	)
	return nil
}

func (s *SignalingService) forwardCountdownTicks(cd *countdown) {
	for {
		select {
		case <-cd.quit:
			return
		case <-s.done:
			return
		case <-cd.ticker.C:
			if !s.submit(func() { s.countdownTick(cd) }) {
				return
			}
		}
	}
}

// countdownTick emits the current count and stops once the emitted count
// exceeds outOf, so counts 0..outOf+1 are sent.
func (s *SignalingService) countdownTick(cd *countdown) {
	if cd.stopped {
		return
	}

	payload := domain.CountdownMessage{
		Type:       domain.MessageTypeCountdown,
		Count:      cd.count,
		OutOf:      cd.outOf,
		IntervalMs: cd.intervalMs,
	}
	s.logger.Debugw("countdown tick", "connection_id", cd.connID, "count", cd.count, "out_of", cd.outOf)

	s.transport.Broadcast(cd.connID, domain.EventMessage, payload)
	if err := s.transport.Send(cd.connID, domain.EventMessage, payload); err != nil {
		s.logger.Debugw("countdown send failed", "connection_id", cd.connID, "error", err)
	}

	if cd.count > cd.outOf {
		s.finishCountdown(cd)
		return
	}
	cd.count++
}

func (s *SignalingService) finishCountdown(cd *countdown) {
	cd.stop()
	if active, ok := s.countdowns[cd.connID]; ok {
		delete(active, cd)
		if len(active) == 0 {
			delete(s.countdowns, cd.connID)
		}
	}
	s.metrics.CountdownFinished()
}

func (s *SignalingService) cancelCountdowns(connID domain.ConnectionID) {
	active, ok := s.countdowns[connID]
	if !ok {
		return
	}
	for cd := range active {
		s.finishCountdown(cd)
	}
	s.logger.Debugw("cancelled countdowns", "connection_id", connID)
}
