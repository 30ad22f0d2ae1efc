package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rendezvous/internal/core/domain"
)

// latencyProbe holds the sequence counter. next is the value the following
// tick will emit, so next-1 is the only counter a reply may carry.
type latencyProbe struct {
	interval time.Duration
	next     int64
}

func newLatencyProbe(interval time.Duration) *latencyProbe {
	return &latencyProbe{interval: interval}
}

func (s *SignalingService) runProbeTicker(ctx context.Context) {
	ticker := time.NewTicker(s.probe.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if !s.submit(s.probeTick) {
				return
			}
		}
	}
}

func (s *SignalingService) probeTick() {
	serverTime := s.now()
	counter := s.probe.next
	s.probe.next++

	ping := domain.ProbePing{ServerTime: serverTime, Counter: counter}
	peers := s.registry.Snapshot()
	for _, peer := range peers {
		if err := s.transport.Send(peer.ConnectionID, domain.EventPing, ping); err != nil {
			s.logger.Debugw("ping send failed", "peer_id", peer.PeerID, "error", err)
		}
	}
	s.logger.Debugw("probe tick", "counter", counter, "peers", len(peers))
}

func (s *SignalingService) handleProbeReply(connID domain.ConnectionID, data json.RawMessage) error {
	received := s.now()

	var reply struct {
		ServerTime *time.Time `json:"serverTime"`
		Counter    *int64     `json:"counter"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrMalformedPayload, err)
	}
	if reply.ServerTime == nil || reply.Counter == nil {
		return fmt.Errorf("%w: ping: serverTime and counter are required", domain.ErrMalformedPayload)
	}

	latest := s.probe.next - 1
	if *reply.Counter != latest {
		s.metrics.ProbeStale()
		s.logger.Debugw("peer out of sync",
			"connection_id", connID,
			"behind", latest-*reply.Counter,
		)
		return nil
	}

	delay := received.Sub(*reply.ServerTime)
	s.metrics.ProbeDelay(delay)
	s.logger.Infow("peer delay",
		"connection_id", connID,
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}
