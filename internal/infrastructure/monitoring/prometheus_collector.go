package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records signaling metrics. It satisfies
// services.MetricsRecorder.
type PrometheusCollector struct {
	connectionsOpen  prometheus.Gauge
	connectionsTotal prometheus.Counter
	peersRegistered  prometheus.Gauge
	admissionsTotal  prometheus.Counter
	rejectionsTotal  prometheus.Counter

	messagesRelayed *prometheus.CounterVec
	relayDropped    *prometheus.CounterVec

	probeDelay      prometheus.Histogram
	probeStaleTotal prometheus.Counter

	countdownsActive  prometheus.Gauge
	countdownsStarted prometheus.Counter

	presenceDropped prometheus.Counter
}

// NewPrometheusCollector registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_connections_open",
			Help: "Number of open WebSocket connections, registered or not",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),

		peersRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_peers_registered",
			Help: "Number of peers currently in the registry",
		}),

		admissionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_peer_admissions_total",
			Help: "Total number of ready events that registered a peer",
		}),

		rejectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_peer_rejections_total",
			Help: "Total number of connections rejected for a duplicate peer id",
		}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_messages_relayed_total",
			Help: "Total number of relayed signaling messages",
		}, []string{"kind"}),

		relayDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_relay_dropped_total",
			Help: "Total number of targeted messages that were not delivered",
		}, []string{"reason"}),

		probeDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rendezvous_probe_delay_seconds",
			Help:    "Round trip delay measured by the latency probe",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		probeStaleTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_probe_stale_replies_total",
			Help: "Total number of probe replies discarded as stale",
		}),

		countdownsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_countdowns_active",
			Help: "Number of running countdowns",
		}),

		countdownsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_countdowns_started_total",
			Help: "Total number of countdowns started",
		}),

		presenceDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_presence_events_dropped_total",
			Help: "Total number of presence events the Redis mirror failed to write",
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsOpen.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsOpen.Dec()
}

func (p *PrometheusCollector) PeerRegistered() {
	p.peersRegistered.Inc()
	p.admissionsTotal.Inc()
}

func (p *PrometheusCollector) PeerDeparted() {
	p.peersRegistered.Dec()
}

func (p *PrometheusCollector) PeerRejected() {
	p.rejectionsTotal.Inc()
}

func (p *PrometheusCollector) MessageRelayed(kind string) {
	p.messagesRelayed.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RelayDropped(reason string) {
	p.relayDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ProbeDelay(delay time.Duration) {
	p.probeDelay.Observe(delay.Seconds())
}

func (p *PrometheusCollector) ProbeStale() {
	p.probeStaleTotal.Inc()
}

func (p *PrometheusCollector) CountdownStarted() {
	p.countdownsActive.Inc()
	p.countdownsStarted.Inc()
}

func (p *PrometheusCollector) CountdownFinished() {
	p.countdownsActive.Dec()
}

// PresenceEventsDropped is wired to the presence mirror's drop counter.
func (p *PrometheusCollector) PresenceEventsDropped(n int) {
	p.presenceDropped.Add(float64(n))
}
