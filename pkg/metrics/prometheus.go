package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "oelive"

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	activeKeys     prometheus.Gauge
	consumers      prometheus.Gauge
	handshakes     *prometheus.CounterVec
	handshakeTime  prometheus.Histogram
	teardowns      *prometheus.CounterVec
	pushes         prometheus.Counter
	deliveries     prometheus.Counter
	orphanEvents   prometheus.Counter
	earlyEvents    *prometheus.CounterVec
	callbackPanics prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements Collector.
var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. A nil reg means
// prometheus.DefaultRegisterer; an empty namespace means DefaultNamespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.activeKeys = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "active_keys",
			Help:      "Object entries with a live or pending bridge listener.",
		})
		p.consumers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "consumers",
			Help:      "Live consumer subscriptions across all entries.",
		})
		p.handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "handshakes_total",
			Help:      "Listener setups by result.",
		}, []string{"result"})
		p.handshakeTime = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of listener setups in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms .. ~3.8s
		})
		p.teardowns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "teardowns_total",
			Help:      "Listener teardowns, split by whether they waited for a setup.",
		}, []string{"deferred"})
		p.pushes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "pushes_total",
			Help:      "Samples pushed by the bridge on owned streams.",
		})
		p.deliveries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "deliveries_total",
			Help:      "Samples handed to consumer callbacks.",
		})
		p.orphanEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "orphan_events_total",
			Help:      "Events dropped because no entry owns their stream.",
		})
		p.earlyEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "early_events_total",
			Help:      "Events received while a setup was still pending.",
		}, []string{"dropped"})
		p.callbackPanics = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "callback_panics_total",
			Help:      "Consumer callbacks that panicked.",
		})

		p.reg.MustRegister(
			p.activeKeys,
			p.consumers,
			p.handshakes,
			p.handshakeTime,
			p.teardowns,
			p.pushes,
			p.deliveries,
			p.orphanEvents,
			p.earlyEvents,
			p.callbackPanics,
		)
	})
}

// SetActiveKeys sets the active key gauge.
func (p *PrometheusCollector) SetActiveKeys(n int) {
	p.ensureRegistered()
	p.activeKeys.Set(float64(n))
}

// SetConsumers sets the consumer gauge.
func (p *PrometheusCollector) SetConsumers(n int) {
	p.ensureRegistered()
	p.consumers.Set(float64(n))
}

// RecordHandshake counts a setup by result and observes its duration.
func (p *PrometheusCollector) RecordHandshake(result string, seconds float64) {
	p.ensureRegistered()
	p.handshakes.WithLabelValues(result).Inc()
	p.handshakeTime.Observe(seconds)
}

// RecordTeardown counts a teardown.
func (p *PrometheusCollector) RecordTeardown(deferred bool) {
	p.ensureRegistered()
	p.teardowns.WithLabelValues(strconv.FormatBool(deferred)).Inc()
}

// RecordPush counts a push and its deliveries.
func (p *PrometheusCollector) RecordPush(delivered int) {
	p.ensureRegistered()
	p.pushes.Inc()
	p.deliveries.Add(float64(delivered))
}

// RecordOrphanEvent counts an orphan event.
func (p *PrometheusCollector) RecordOrphanEvent() {
	p.ensureRegistered()
	p.orphanEvents.Inc()
}

// RecordEarlyEvent counts an early event.
func (p *PrometheusCollector) RecordEarlyEvent(dropped bool) {
	p.ensureRegistered()
	p.earlyEvents.WithLabelValues(strconv.FormatBool(dropped)).Inc()
}

// RecordCallbackPanic counts a panicking callback.
func (p *PrometheusCollector) RecordCallbackPanic() {
	p.ensureRegistered()
	p.callbackPanics.Inc()
}
