package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the CSI capture pipeline.
type Metrics struct {
	registry *prometheus.Registry

	packetsTotal     *prometheus.CounterVec   // UDP payloads seen, by source
	bytesTotal       *prometheus.CounterVec   // payload bytes, by source
	forwardDropped   prometheus.Counter       // datagrams dropped by the forwarder queue
	framesTotal      prometheus.Counter       // successfully decoded CSI frames
	decodeErrors     *prometheus.CounterVec   // frame decode failures, by reason
	generations      prometheus.Counter       // WifiCsi snapshots emitted by the grouper
	slotsPopulated   prometheus.Histogram     // populated slots per snapshot
	lastRSSI         prometheus.Gauge         // RSSI of the most recent snapshot
	aoaMeanRadians   *prometheus.GaugeVec     // mean AoA, by pair (center, left)
	tofNanoseconds   *prometheus.GaugeVec     // ToF, by core
	publishTotal     *prometheus.CounterVec   // publish attempts, by sink and result
	storeLatency     prometheus.Histogram     // snapshot insert latency
	wsClients        prometheus.Gauge         // connected websocket clients
	captureUp        prometheus.Gauge         // 1 while a capture source is streaming
	sessionDurations *prometheus.HistogramVec // capture session length, by source
}

// NewMetrics registers the collectors on a fresh registry, which also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packetsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csi_packets_total",
				Help: "CSI UDP payloads received",
			},
			[]string{"source"},
		),
		bytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csi_packet_bytes_total",
				Help: "CSI UDP payload bytes received",
			},
			[]string{"source"},
		),
		forwardDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "csi_forward_dropped_total",
			Help: "Datagrams dropped because the forward queue was full",
		}),
		framesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "csi_frames_total",
			Help: "CSI frames decoded",
		}),
		decodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csi_decode_errors_total",
				Help: "CSI frames that failed to decode",
			},
			[]string{"reason"},
		),
		generations: f.NewCounter(prometheus.CounterOpts{
			Name: "csi_snapshots_total",
			Help: "Grouped CSI snapshots emitted",
		}),
		slotsPopulated: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "csi_snapshot_slots",
			Help:    "Populated core/spatial-stream slots per snapshot",
			Buckets: []float64{1, 2, 4, 8, 12, 16},
		}),
		lastRSSI: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_rssi_dbm",
			Help: "RSSI of the most recent snapshot",
		}),
		aoaMeanRadians: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "csi_aoa_mean_radians",
				Help: "Mean angle of arrival over finite subcarriers",
			},
			[]string{"pair"},
		),
		tofNanoseconds: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "csi_tof_nanoseconds",
				Help: "Time of flight estimate",
			},
			[]string{"core"},
		),
		publishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csi_publish_total",
				Help: "Estimate publish attempts",
			},
			[]string{"sink", "result"},
		),
		storeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "csi_store_seconds",
			Help:    "Snapshot insert latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_websocket_clients",
			Help: "Connected live-stream clients",
		}),
		captureUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_capture_up",
			Help: "1 while a capture source is streaming",
		}),
		sessionDurations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csi_session_duration_seconds",
				Help:    "Capture session duration",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"source"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorders below accept a nil receiver so callers can leave metrics
// unconfigured.

func (m *Metrics) Packet(source string, bytes int) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(source).Inc()
	m.bytesTotal.WithLabelValues(source).Add(float64(bytes))
}

func (m *Metrics) ForwardDropped() {
	if m == nil {
		return
	}
	m.forwardDropped.Inc()
}

func (m *Metrics) Frame() {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
}

func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// Snapshot records one grouped snapshot.
func (m *Metrics) Snapshot(populated int, rssi int8) {
	if m == nil {
		return
	}
	m.generations.Inc()
	m.slotsPopulated.Observe(float64(populated))
	m.lastRSSI.Set(float64(rssi))
}

func (m *Metrics) AoA(pair string, radians float64) {
	if m == nil {
		return
	}
	m.aoaMeanRadians.WithLabelValues(pair).Set(radians)
}

func (m *Metrics) ToF(core string, ns float64) {
	if m == nil {
		return
	}
	m.tofNanoseconds.WithLabelValues(core).Set(ns)
}

func (m *Metrics) Publish(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishTotal.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) StoreLatency(seconds float64) {
	if m == nil {
		return
	}
	m.storeLatency.Observe(seconds)
}

func (m *Metrics) WebsocketClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

func (m *Metrics) CaptureUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.captureUp.Set(1)
	} else {
		m.captureUp.Set(0)
	}
}

func (m *Metrics) SessionEnded(source string, seconds float64) {
	if m == nil {
		return
	}
	m.sessionDurations.WithLabelValues(source).Observe(seconds)
}
