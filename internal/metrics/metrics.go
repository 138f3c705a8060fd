package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline counters. Stages update the atomics directly;
// Prometheus reads them through GaugeFunc collectors.
type Metrics struct {
	FramesCaptured  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64 // dropped between stages (oldest-first)

	DatagramsSent    atomic.Uint64
	DatagramsDropped atomic.Uint64
	BytesSent        atomic.Uint64
	SendErrors       atomic.Uint64

	RecorderFramesSent    atomic.Uint64
	RecorderFramesDropped atomic.Uint64

	PreviewClients atomic.Uint64
	WebRTCClients  atomic.Uint64

	FrameLatencyMs   atomic.Uint64
	ProcessLatencyMs atomic.Uint64
	SendQueueUsage   atomic.Uint64 // percent

	RecordingActive atomic.Uint64
	RecordingBytes  atomic.Uint64
	RecordingFrames atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauge := func(name, help string, load func() uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(load()) },
		))
	}

	gauge("camstream_frames_captured_total", "Access units produced by the capture source",
		m.FramesCaptured.Load)
	gauge("camstream_frames_processed_total", "Access units scanned for NAL metadata",
		m.FramesProcessed.Load)
	gauge("camstream_frames_dropped_total", "Access units dropped between pipeline stages",
		m.FramesDropped.Load)

	gauge("camstream_datagrams_sent_total", "Datagrams written to the destination",
		m.DatagramsSent.Load)
	gauge("camstream_datagrams_dropped_total", "Datagrams lost to transient send failures",
		m.DatagramsDropped.Load)
	gauge("camstream_bytes_sent_total", "Payload bytes written to the destination",
		m.BytesSent.Load)
	gauge("camstream_send_errors_total", "Frames that had at least one failed datagram",
		m.SendErrors.Load)

	gauge("camstream_recorder_frames_sent_total", "Access units handed to the recorder",
		m.RecorderFramesSent.Load)
	gauge("camstream_recorder_frames_dropped_total", "Access units the recorder could not keep up with",
		m.RecorderFramesDropped.Load)

	gauge("camstream_preview_clients", "Connected MJPEG preview clients",
		m.PreviewClients.Load)
	gauge("camstream_webrtc_clients", "Connected WebRTC preview clients",
		m.WebRTCClients.Load)

	gauge("camstream_frame_latency_ms", "Capture-to-send latency in milliseconds",
		m.FrameLatencyMs.Load)
	gauge("camstream_process_latency_ms", "NAL scan latency in milliseconds",
		m.ProcessLatencyMs.Load)
	gauge("camstream_send_queue_usage_percent", "Send queue fill level",
		m.SendQueueUsage.Load)

	gauge("camstream_recording_active", "Recording active (0/1)",
		m.RecordingActive.Load)
	gauge("camstream_recording_bytes", "Bytes written to the current recording",
		m.RecordingBytes.Load)
	gauge("camstream_recording_frames", "Access units written to the current recording",
		m.RecordingFrames.Load)
}

// UpdateFrameLatency records the capture-to-now latency.
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	m.FrameLatencyMs.Store(uint64(time.Since(captureTime).Milliseconds()))
}

// UpdateProcessLatency records the duration of the last NAL scan.
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateQueueUsage records the send queue fill level.
func (m *Metrics) UpdateQueueUsage(used, capacity int) {
	if capacity > 0 {
		m.SendQueueUsage.Store(uint64(used * 100 / capacity))
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. Blocks.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
