package monitoring

import (
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	registerer prometheus.Registerer

	connectionsOpen   prometheus.Gauge
	connectionsTotal  prometheus.Counter
	onlineUsers       prometheus.Gauge
	framesDropped     prometheus.Counter
	envelopesRejected *prometheus.CounterVec

	relayDelivered  *prometheus.CounterVec
	relayFanout     prometheus.Histogram
	relayOffline    *prometheus.CounterVec
	persistFailures prometheus.Counter
	callTransitions *prometheus.CounterVec
	callDuration    prometheus.Histogram
	signalsDropped  prometheus.Counter
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers all series on reg. Passing nil uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registerer: reg,

		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "connectsphere_connections_open",
			Help: "Number of open realtime connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "connectsphere_connections_total",
			Help: "Total number of realtime connections accepted",
		}),

		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "connectsphere_online_users",
			Help: "Number of users with at least one bound connection",
		}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "connectsphere_frames_dropped_total",
			Help: "Frames dropped because a connection queue was full or closing",
		}),

		envelopesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectsphere_envelopes_rejected_total",
			Help: "Inbound envelopes rejected by validation",
		}, []string{"kind"}),

		relayDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectsphere_relay_delivered_total",
			Help: "Relay events delivered to at least one connection",
		}, []string{"kind"}),

		relayFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "connectsphere_relay_fanout_connections",
			Help:    "Connections reached per delivered relay event",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		relayOffline: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectsphere_relay_offline_total",
			Help: "Relay targets with no live connection",
		}, []string{"kind"}),

		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "connectsphere_persist_failures_total",
			Help: "Relay events that could not be handed to the message store",
		}),

		callTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectsphere_call_transitions_total",
			Help: "Call session state transitions",
		}, []string{"state", "reason"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "connectsphere_call_duration_seconds",
			Help:    "Duration of answered calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		signalsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "connectsphere_call_signals_dropped_total",
			Help: "Call signals dropped because the session was unknown or ended",
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

func (p *PrometheusCollector) SetOnlineUsers(n int) {
	p.onlineUsers.Set(float64(n))
}

func (p *PrometheusCollector) RelayDelivered(kind domain.EventKind, connections int) {
	p.relayDelivered.WithLabelValues(string(kind)).Inc()
	p.relayFanout.Observe(float64(connections))
}

func (p *PrometheusCollector) RelayOffline(kind domain.EventKind) {
	p.relayOffline.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) FrameDropped() {
	p.framesDropped.Inc()
}

func (p *PrometheusCollector) EnvelopeRejected(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	p.envelopesRejected.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) CallTransition(to domain.CallState, reason domain.EndReason) {
	p.callTransitions.WithLabelValues(string(to), string(reason)).Inc()
}

func (p *PrometheusCollector) CallDuration(d time.Duration) {
	p.callDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) SignalDropped() {
	p.signalsDropped.Inc()
}

func (p *PrometheusCollector) PersistFailed(n int) {
	p.persistFailures.Add(float64(n))
}

// ObserveCallSessions exposes live and retained call counts, sampled on
// every scrape.
func (p *PrometheusCollector) ObserveCallSessions(live, retained func() int) {
	factory := promauto.With(p.registerer)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "connectsphere_call_sessions_live",
		Help: "Call sessions in ringing or active state",
	}, func() float64 { return float64(live()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "connectsphere_call_sessions_retained",
		Help: "Ended call sessions kept for late lookups",
	}, func() float64 { return float64(retained()) })
}
