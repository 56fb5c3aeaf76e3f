package object

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "coral"
	metricsSubsystem = "object"
)

// Stats is a point-in-time snapshot of runtime counters.
type Stats struct {
	Allocated    uint64 `cbor:"allocated" json:"allocated"`
	Initialized  uint64 `cbor:"initialized" json:"initialized"`
	Destroyed    uint64 `cbor:"destroyed" json:"destroyed"`
	Live         int64  `cbor:"live" json:"live"`
	Dispatched   uint64 `cbor:"dispatched" json:"dispatched"`
	Autoreleased uint64 `cbor:"autoreleased" json:"autoreleased"`
	Drains       uint64 `cbor:"drains" json:"drains"`
}

// metrics keeps plain atomic counters for Stats and mirrors them into
// Prometheus collectors labelled with the runtime id.
type metrics struct {
	allocatedN    atomic.Uint64
	initializedN  atomic.Uint64
	destroyedN    atomic.Uint64
	live          atomic.Int64
	dispatchedN   atomic.Uint64
	autoreleasedN atomic.Uint64
	drainsN       atomic.Uint64

	allocatedTotal    prometheus.Counter
	initializedTotal  prometheus.Counter
	destroyedTotal    prometheus.Counter
	liveGauge         prometheus.Gauge
	dispatchTotal     *prometheus.CounterVec
	autoreleasedTotal prometheus.Counter
	drainsTotal       prometheus.Counter
}

func newMetrics(id uuid.UUID) *metrics {
	labels := prometheus.Labels{"runtime": id.String()}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &metrics{
		allocatedTotal:   counter("objects_allocated_total", "Total instances allocated"),
		initializedTotal: counter("objects_initialized_total", "Total instances initialized"),
		destroyedTotal:   counter("objects_destroyed_total", "Total instances destroyed"),
		liveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "objects_live",
			Help:        "Instances initialized and not yet destroyed",
			ConstLabels: labels,
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "dispatch_total",
			Help:        "Total method dispatches by method name",
			ConstLabels: labels,
		}, []string{"method"}),
		autoreleasedTotal: counter("autoreleased_total", "Total autorelease registrations"),
		drainsTotal:       counter("pool_drains_total", "Total autorelease pool drains"),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.allocatedTotal,
		m.initializedTotal,
		m.destroyedTotal,
		m.liveGauge,
		m.dispatchTotal,
		m.autoreleasedTotal,
		m.drainsTotal,
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *metrics) allocated() {
	m.allocatedN.Add(1)
	m.allocatedTotal.Inc()
}

func (m *metrics) initialized() {
	m.initializedN.Add(1)
	m.initializedTotal.Inc()
	m.live.Add(1)
	m.liveGauge.Inc()
}

func (m *metrics) destroyed() {
	m.destroyedN.Add(1)
	m.destroyedTotal.Inc()
	m.live.Add(-1)
	m.liveGauge.Dec()
}

func (m *metrics) dispatched(method string) {
	m.dispatchedN.Add(1)
	m.dispatchTotal.WithLabelValues(method).Inc()
}

func (m *metrics) autoreleased() {
	m.autoreleasedN.Add(1)
	m.autoreleasedTotal.Inc()
}

func (m *metrics) drained() {
	m.drainsN.Add(1)
	m.drainsTotal.Inc()
}

// Stats returns a snapshot of the runtime counters. Classes are not counted.
func (rt *Runtime) Stats() Stats {
	m := rt.metrics
	return Stats{
		Allocated:    m.allocatedN.Load(),
		Initialized:  m.initializedN.Load(),
		Destroyed:    m.destroyedN.Load(),
		Live:         m.live.Load(),
		Dispatched:   m.dispatchedN.Load(),
		Autoreleased: m.autoreleasedN.Load(),
		Drains:       m.drainsN.Load(),
	}
}
