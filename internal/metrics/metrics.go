// Package metrics exposes C13's counters through
// github.com/prometheus/client_golang, the dependency the wider retrieval
// pack (gotd/mtg) reaches for on its own metrics surface. Metrics is an
// adaptation of the source's internal/stats package: the same shape of
// counters (active connections, per-DC attempt/success/failure counts,
// ping failures, reconnects), now backed by a registry instead of a
// locked slice of clients, with AsString kept as the same human-readable
// debug dump reading off these counters.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe for concurrent use; its own counters are prometheus
// primitives (concurrency-safe by design of that library), and the
// per-DC breakdown used by AsString is guarded by an internal lock.
type Metrics struct {
	Registry *prometheus.Registry

	activeConnections prometheus.Gauge
	dialAttempts      *prometheus.CounterVec
	dialSuccesses     *prometheus.CounterVec
	dialFailures      *prometheus.CounterVec
	pingFailures      prometheus.Counter
	reconnects        prometheus.Counter

	mu      sync.Mutex
	perDC   map[int16]*dcCounts
}

type dcCounts struct {
	attempts, successes, failures int
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mtclient",
			Name:      "active_connections",
			Help:      "Number of currently established DC connections.",
		}),
		dialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtclient",
			Name:      "dial_attempts_total",
			Help:      "Dial attempts per DC.",
		}, []string{"dc"}),
		dialSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtclient",
			Name:      "dial_successes_total",
			Help:      "Successful dials per DC.",
		}, []string{"dc"}),
		dialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtclient",
			Name:      "dial_failures_total",
			Help:      "Failed dials per DC.",
		}, []string{"dc"}),
		pingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtclient",
			Name:      "ping_failures_total",
			Help:      "Consecutive ping_delay_disconnect failures observed.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtclient",
			Name:      "reconnects_total",
			Help:      "Automatic reconnection attempts triggered by the controller.",
		}),
		perDC: map[int16]*dcCounts{},
	}
	reg.MustRegister(m.activeConnections, m.dialAttempts, m.dialSuccesses, m.dialFailures, m.pingFailures, m.reconnects)
	return m
}

func (m *Metrics) ConnectionOpened() { m.activeConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.activeConnections.Dec() }

func (m *Metrics) DialAttempt(dc int16) {
	label := fmt.Sprintf("%d", dc)
	m.dialAttempts.WithLabelValues(label).Inc()
	m.mu.Lock()
	m.dcCounts(dc).attempts++
	m.mu.Unlock()
}

func (m *Metrics) DialSucceeded(dc int16) {
	label := fmt.Sprintf("%d", dc)
	m.dialSuccesses.WithLabelValues(label).Inc()
	m.mu.Lock()
	m.dcCounts(dc).successes++
	m.mu.Unlock()
}

func (m *Metrics) DialFailed(dc int16) {
	label := fmt.Sprintf("%d", dc)
	m.dialFailures.WithLabelValues(label).Inc()
	m.mu.Lock()
	m.dcCounts(dc).failures++
	m.mu.Unlock()
}

func (m *Metrics) PingFailed() { m.pingFailures.Inc() }
func (m *Metrics) Reconnected() { m.reconnects.Inc() }

// dcCounts must be called with mu held.
func (m *Metrics) dcCounts(dc int16) *dcCounts {
	c, ok := m.perDC[dc]
	if !ok {
		c = &dcCounts{}
		m.perDC[dc] = c
	}
	return c
}

// AsString renders a human-readable dump, the same shape the source's
// Stats.AsString produced for operators watching a running process.
func (m *Metrics) AsString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	dcs := make([]int16, 0, len(m.perDC))
	for dc := range m.perDC {
		dcs = append(dcs, dc)
	}
	sort.Slice(dcs, func(i, j int) bool { return dcs[i] < dcs[j] })

	b := &strings.Builder{}
	fmt.Fprintf(b, "Connections:\n")
	for _, dc := range dcs {
		c := m.perDC[dc]
		fmt.Fprintf(b, "dc %d: attempts=%d successes=%d failures=%d\n", dc, c.attempts, c.successes, c.failures)
	}
	return b.String()
}
