package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the sensor pipeline counters. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	BytesRead         prometheus.Counter
	ReadErrors        prometheus.Counter
	Frames            prometheus.Counter
	FramingOverflows  prometheus.Counter
	Messages          *prometheus.CounterVec // labels: kind
	OutliersRejected  prometheus.Counter
	HandshakeAttempts *prometheus.CounterVec // labels: result=ok|no_response|write_failed|confirm_failed
	Connected         prometheus.Gauge
	QueueDepth        prometheus.Gauge
	WindowSamples     prometheus.Gauge
	RecorderDropped   prometheus.Counter
}

// NewMetrics registers and returns the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_serial_bytes_read_total",
			Help: "Total bytes read from the serial transport.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_serial_read_errors_total",
			Help: "Transient read errors the transport recovered from.",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_frames_total",
			Help: "Completed delimiter-bounded frames.",
		}),
		FramingOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_framing_overflow_total",
			Help: "Unterminated fragments discarded because the frame buffer filled.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_messages_total",
			Help: "Classified messages by kind.",
		}, []string{"kind"}),
		OutliersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_outliers_rejected_total",
			Help: "Data messages reclassified as errors by the jump filter.",
		}),
		HandshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_handshake_attempts_total",
			Help: "Handshake attempts by result.",
		}, []string{"result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_connected",
			Help: "1 while a validated session with the device is established.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_queue_depth",
			Help: "Classified messages waiting in the message queue.",
		}),
		WindowSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_window_samples",
			Help: "Samples retained in the display window.",
		}),
		RecorderDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_recorder_dropped_total",
			Help: "Events dropped because the event journal buffer was full.",
		}),
	}
	reg.MustRegister(m.BytesRead, m.ReadErrors, m.Frames, m.FramingOverflows, m.Messages, m.OutliersRejected,
		m.HandshakeAttempts, m.Connected, m.QueueDepth, m.WindowSamples, m.RecorderDropped)
	return m
}

func (m *Metrics) AddBytes(n int) {
	if m != nil {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) IncReadError() {
	if m != nil {
		m.ReadErrors.Inc()
	}
}

func (m *Metrics) IncFrames() {
	if m != nil {
		m.Frames.Inc()
	}
}

func (m *Metrics) IncOverflow() {
	if m != nil {
		m.FramingOverflows.Inc()
	}
}

func (m *Metrics) IncMessage(kind string) {
	if m != nil {
		m.Messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncOutlier() {
	if m != nil {
		m.OutliersRejected.Inc()
	}
}

func (m *Metrics) IncHandshake(result string) {
	if m != nil {
		m.HandshakeAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetWindowSamples(n int) {
	if m != nil {
		m.WindowSamples.Set(float64(n))
	}
}

func (m *Metrics) IncRecorderDropped() {
	if m != nil {
		m.RecorderDropped.Inc()
	}
}
