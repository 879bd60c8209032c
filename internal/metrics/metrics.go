// Package metrics exposes the progress of a stream as prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manifest-network/eventstream/internal/stream"
)

const namespace = "eventstream"

// Metrics implements stream.Observer on top of a prometheus registry.
type Metrics struct {
	emitted      *prometheus.CounterVec
	duplicates   prometheus.Counter
	gaps         prometheus.Counter
	gapHeights   prometheus.Counter
	liveMessages *prometheus.CounterVec
	liveState    prometheus.Gauge
	height       prometheus.Gauge
	chainHeight  prometheus.Gauge
	writes       *prometheus.HistogramVec
}

var _ stream.Observer = (*Metrics)(nil)

// New creates the stream metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		emitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "emitted_total", Help: "Items emitted, by source"},
			[]string{"source"},
		),
		duplicates: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "duplicates_dropped_total", Help: "Items dropped at or below the cursor"},
		),
		gaps: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "gaps_total", Help: "Gaps backfilled from the historical source"},
		),
		gapHeights: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "gap_heights_total", Help: "Heights requested by gap fills"},
		),
		liveMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "live_messages_total", Help: "Live messages, by classified kind"},
			[]string{"kind"},
		),
		liveState: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "live_state", Help: "Live connection state (0 disconnected, 1 connecting, 2 subscribed, 3 receiving, 4 recovering)"},
		),
		height: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "height", Help: "Last emitted height"},
		),
		chainHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "chain_height", Help: "Chain height when the merge started"},
		),
		writes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "output_write_duration_seconds", Help: "Output write latency", Buckets: prometheus.DefBuckets},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.emitted, m.duplicates, m.gaps, m.gapHeights, m.liveMessages, m.liveState, m.height, m.chainHeight, m.writes)
	return m
}

func (m *Metrics) Emitted(height uint64, src stream.Source) {
	m.emitted.WithLabelValues(string(src)).Inc()
	m.height.Set(float64(height))
}

func (m *Metrics) DuplicateDropped(uint64) {
	m.duplicates.Inc()
}

func (m *Metrics) GapDetected(from, to uint64) {
	m.gaps.Inc()
	if to >= from {
		m.gapHeights.Add(float64(to - from + 1))
	}
}

func (m *Metrics) LiveMessage(kind string) {
	m.liveMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) LiveState(state stream.State) {
	m.liveState.Set(float64(state))
}

// Plan records the chain height a merge was planned against.
func (m *Metrics) Plan(p stream.Plan) {
	m.chainHeight.Set(float64(p.Current))
}

// ObserveWrite records the latency of one output write.
func (m *Metrics) ObserveWrite(started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.writes.WithLabelValues(status).Observe(time.Since(started).Seconds())
}
