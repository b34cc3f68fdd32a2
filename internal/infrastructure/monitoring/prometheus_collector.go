package monitoring

import (
	"callbox/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	framesEmittedTotal prometheus.Counter
	framesSentTotal    prometheus.Counter
	bytesSentTotal     prometheus.Counter
	sendFailuresTotal  prometheus.Counter
	framesDroppedTotal *prometheus.CounterVec

	// Gauges
	sourcesRegistered prometheus.Gauge
	sourcesConnected  prometheus.Gauge
	broadcastActive   prometheus.Gauge
	gainPercent       prometheus.Gauge

	// Histograms
	frameBytes prometheus.Histogram
}

var _ ports.PipelineMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the callbox series with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		framesEmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbox_frames_emitted_total",
			Help: "Total number of audio blocks emitted by the capture graph",
		}),

		framesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbox_frames_sent_total",
			Help: "Total number of planar buffers handed to the broadcast channel",
		}),

		bytesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbox_bytes_sent_total",
			Help: "Total planar audio bytes handed to the broadcast channel",
		}),

		sendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbox_send_errors_total",
			Help: "Total number of buffers the broadcast channel rejected",
		}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbox_frames_dropped_total",
			Help: "Frames dropped before reaching the broadcast channel",
		}, []string{"stage"}),

		sourcesRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbox_sources_registered",
			Help: "Number of discovered inbound audio streams",
		}),

		sourcesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbox_sources_connected",
			Help: "Number of inbound audio streams feeding the mix",
		}),

		broadcastActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbox_broadcast_active",
			Help: "1 while a broadcast channel is open",
		}),

		gainPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbox_gain_percent",
			Help: "Current master gain in percent",
		}),

		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbox_frame_bytes",
			Help:    "Size of planar buffers handed to the broadcast channel",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) FrameEmitted() {
	p.framesEmittedTotal.Inc()
}

func (p *PrometheusCollector) FrameDropped(stage string) {
	p.framesDroppedTotal.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) FrameSent(bytes int) {
	p.framesSentTotal.Inc()
	p.bytesSentTotal.Add(float64(bytes))
	p.frameBytes.Observe(float64(bytes))
}

func (p *PrometheusCollector) SendFailed() {
	p.sendFailuresTotal.Inc()
}

func (p *PrometheusCollector) SourcesChanged(registered, connected int) {
	p.sourcesRegistered.Set(float64(registered))
	p.sourcesConnected.Set(float64(connected))
}

func (p *PrometheusCollector) BroadcastActive(active bool) {
	if active {
		p.broadcastActive.Set(1)
		return
	}
	p.broadcastActive.Set(0)
}

func (p *PrometheusCollector) GainChanged(percent int) {
	p.gainPercent.Set(float64(percent))
}
