package services

import "time"

// MetricsRecorder receives signaling counters. The Prometheus collector in
// the monitoring package implements it.
type MetricsRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	PeerRegistered()
	PeerDeparted()
	PeerRejected()
	MessageRelayed(kind string)
	RelayDropped(reason string)
	ProbeDelay(delay time.Duration)
	ProbeStale()
	CountdownStarted()
	CountdownFinished()
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened() {}
func (noopMetrics) ConnectionClosed() {}
func (noopMetrics) PeerRegistered() {}
func (noopMetrics) PeerDeparted() {}
func (noopMetrics) PeerRejected() {}
func (noopMetrics) MessageRelayed(string) {}
func (noopMetrics) RelayDropped(string) {}
func (noopMetrics) ProbeDelay(time.Duration) {}
func (noopMetrics) ProbeStale() {}
func (noopMetrics) CountdownStarted() {}
func (noopMetrics) CountdownFinished() {}
