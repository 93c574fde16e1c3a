// Package metrics exposes per-source pipeline counters as Prometheus
// collectors, registered per instance via ConstLabels so multiple
// sources share one registry without name collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigil-systems/ingestord/internal/processor"
)

// SourceMetrics holds the Prometheus collectors for one source's
// pipeline: the fields named in the Control Plane's metrics() call.
// The "Total" fields are Counters fed by Sync, which computes the
// delta against the Pool's cumulative atomic counters on each call.
type SourceMetrics struct {
	QueueDepth              prometheus.Gauge
	WorkersActive           prometheus.Gauge
	EventsInTotal           prometheus.Counter
	EventsDroppedQueueFull  prometheus.Counter
	EventsDroppedFilter     prometheus.Counter
	EventsDroppedSinkBuffer prometheus.Counter
	EventsDeliveredTotal    prometheus.Counter
	BytesDeliveredTotal     prometheus.Counter

	collectors []prometheus.Collector
	registerer prometheus.Registerer

	lastIn             uint64
	lastDroppedQueue   uint64
	lastDroppedFilter  uint64
	lastDroppedSinkBuf uint64
	lastDelivered      uint64
	lastBytesDelivered uint64
}

// NewSourceMetrics creates and registers the collector set for
// sourceName against reg. Call Unregister before re-creating metrics
// for the same source (e.g. across a reload) to avoid duplicate
// registration panics.
func NewSourceMetrics(reg prometheus.Registerer, sourceName string) *SourceMetrics {
	labels := prometheus.Labels{"source": sourceName}

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "ingestord_source_queue_depth",
		Help:        "Current number of records queued for this source",
		ConstLabels: labels,
	})
	workersActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "ingestord_source_workers_active",
		Help:        "Current number of processor workers for this source",
		ConstLabels: labels,
	})
	eventsIn := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_events_in_total",
		Help:        "Total records accepted into this source's queue",
		ConstLabels: labels,
	})
	droppedQueueFull := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_events_dropped_queue_full_total",
		Help:        "Total records dropped because the source queue was full",
		ConstLabels: labels,
	})
	droppedFilter := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_events_dropped_filter_total",
		Help:        "Total records dropped by the Filter Engine",
		ConstLabels: labels,
	})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_events_delivered_total",
		Help:        "Total records successfully delivered to the sink",
		ConstLabels: labels,
	})
	droppedSinkBuffer := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_events_dropped_sink_buffer_total",
		Help:        "Total batches discarded because the sink's retry park buffer was full",
		ConstLabels: labels,
	})
	bytesDelivered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "ingestord_source_bytes_delivered_total",
		Help:        "Total bytes successfully delivered to the sink",
		ConstLabels: labels,
	})

	collectors := []prometheus.Collector{
		queueDepth, workersActive, eventsIn, droppedQueueFull, droppedFilter, droppedSinkBuffer, delivered, bytesDelivered,
	}
	reg.MustRegister(collectors...)

	return &SourceMetrics{
		QueueDepth:              queueDepth,
		WorkersActive:           workersActive,
		EventsInTotal:           eventsIn,
		EventsDroppedQueueFull:  droppedQueueFull,
		EventsDroppedFilter:     droppedFilter,
		EventsDroppedSinkBuffer: droppedSinkBuffer,
		EventsDeliveredTotal:    delivered,
		BytesDeliveredTotal:     bytesDelivered,
		collectors:              collectors,
		registerer:              reg,
	}
}

// Sync applies a Stats snapshot: gauges are set directly, counters
// advance by the delta since the last Sync call (cumulative atomics in
// Pool never decrease except across a process restart, which also
// resets these counters' delta baseline to zero).
func (m *SourceMetrics) Sync(stats processor.Stats) {
	m.QueueDepth.Set(float64(stats.QueueDepth))
	m.WorkersActive.Set(float64(stats.WorkersActive))

	m.EventsInTotal.Add(float64(delta(&m.lastIn, stats.EventsIn)))
	m.EventsDroppedQueueFull.Add(float64(delta(&m.lastDroppedQueue, stats.EventsDroppedQueueFull)))
	m.EventsDroppedFilter.Add(float64(delta(&m.lastDroppedFilter, stats.EventsDroppedFilter)))
	m.EventsDroppedSinkBuffer.Add(float64(delta(&m.lastDroppedSinkBuf, stats.EventsDroppedSinkBuffer)))
	m.EventsDeliveredTotal.Add(float64(delta(&m.lastDelivered, stats.EventsDelivered)))
	m.BytesDeliveredTotal.Add(float64(delta(&m.lastBytesDelivered, stats.BytesDelivered)))
}

// delta returns current - *last and updates *last to current. Returns
// 0 instead of going negative if current regressed (a Pool recreated
// after a reload starts its counters back at zero).
func delta(last *uint64, current uint64) uint64 {
	if current < *last {
		*last = current
		return 0
	}
	d := current - *last
	*last = current
	return d
}

// Unregister removes every collector for this source from the
// registry, used when a source is deleted or its pool is recreated on
// reload.
func (m *SourceMetrics) Unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.collectors {
		m.registerer.Unregister(c)
	}
}
