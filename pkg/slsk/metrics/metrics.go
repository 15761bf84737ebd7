// Package metrics exposes the optional Prometheus instrumentation the
// client façade wires into every component that can usefully report a
// gauge or counter (SPEC_FULL.md's DOMAIN STACK section). None of it is
// required to use the client; a nil *Metrics is valid and every method
// on it is a safe no-op, so components never need to branch on whether
// metrics were configured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors a running client updates as it works.
// Callers register Registry() with their own prometheus.Gatherer (or
// use the package default via http.Handler) and otherwise never touch
// the fields directly.
type Metrics struct {
	registry *prometheus.Registry

	livePeerConnections prometheus.Gauge
	inFlightTransfers   *prometheus.GaugeVec
	bytesTransferred    *prometheus.CounterVec
	searchResponses     prometheus.Counter
	transferOutcomes    *prometheus.CounterVec
	waitTimeouts        *prometheus.CounterVec
}

// New builds a Metrics backed by a fresh registry, so multiple clients
// in the same process never collide on collector registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		livePeerConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slsk",
			Name:      "live_peer_connections",
			Help:      "Number of currently open peer message connections.",
		}),
		inFlightTransfers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "slsk",
			Name:      "in_flight_transfers",
			Help:      "Number of transfers currently not in a terminal state, by direction.",
		}, []string{"direction"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slsk",
			Name:      "bytes_transferred_total",
			Help:      "Total bytes moved over transfer connections, by direction.",
		}, []string{"direction"}),
		searchResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slsk",
			Name:      "search_responses_total",
			Help:      "Total FileSearchResponse frames accepted across all searches.",
		}),
		transferOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slsk",
			Name:      "transfer_outcomes_total",
			Help:      "Total completed transfers, by direction and terminal outcome.",
		}, []string{"direction", "terminal"}),
		waitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slsk",
			Name:      "wait_timeouts_total",
			Help:      "Total registry waits that ended in timeout, by tag.",
		}, []string{"tag"}),
	}
	reg.MustRegister(
		m.livePeerConnections,
		m.inFlightTransfers,
		m.bytesTransferred,
		m.searchResponses,
		m.transferOutcomes,
		m.waitTimeouts,
	)
	return m
}

// Registry returns the collector registry backing m, for a caller to
// serve via promhttp or merge into a larger application registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PeerConnectionOpened() {
	if m == nil {
		return
	}
	m.livePeerConnections.Inc()
}

func (m *Metrics) PeerConnectionClosed() {
	if m == nil {
		return
	}
	m.livePeerConnections.Dec()
}

func (m *Metrics) TransferStarted(direction string) {
	if m == nil {
		return
	}
	m.inFlightTransfers.WithLabelValues(direction).Inc()
}

func (m *Metrics) TransferFinished(direction, terminal string) {
	if m == nil {
		return
	}
	m.inFlightTransfers.WithLabelValues(direction).Dec()
	m.transferOutcomes.WithLabelValues(direction, terminal).Inc()
}

func (m *Metrics) BytesTransferred(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) SearchResponseAccepted() {
	if m == nil {
		return
	}
	m.searchResponses.Inc()
}

func (m *Metrics) WaitTimedOut(tag string) {
	if m == nil {
		return
	}
	m.waitTimeouts.WithLabelValues(tag).Inc()
}
