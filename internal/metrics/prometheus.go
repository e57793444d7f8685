// Package metrics exposes Prometheus metrics and per-room usage counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the transcription worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Room metrics
	ActiveRooms   prometheus.Gauge
	RoomsStarted  prometheus.Counter
	RoomsFinished *prometheus.CounterVec

	// Pipeline metrics
	ActivePipelines  prometheus.Gauge
	PipelineOutcomes *prometheus.CounterVec
	FramesForwarded  prometheus.Counter
	FramePushErrors  *prometheus.CounterVec

	// Transcript metrics
	FinalSegments      prometheus.Counter
	PartialTranscripts prometheus.Counter
	Summaries          *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "saubol_active_rooms",
			Help: "Current number of rooms with a running transcription worker",
		}),
		RoomsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "saubol_rooms_started_total",
			Help: "Total number of room workers started",
		}),
		RoomsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "saubol_rooms_finished_total",
			Help: "Total number of room workers finished, by outcome",
		}, []string{"outcome"}),

		ActivePipelines: f.NewGauge(prometheus.GaugeOpts{
			Name: "saubol_active_pipelines",
			Help: "Current number of running per-track pipelines",
		}),
		PipelineOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "saubol_pipeline_outcomes_total",
			Help: "Total number of finished per-track pipelines, by outcome",
		}, []string{"outcome"}),
		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "saubol_frames_forwarded_total",
			Help: "Total number of audio frames forwarded to recognition",
		}),
		FramePushErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "saubol_frame_push_errors_total",
			Help: "Total number of frame push failures, by stage",
		}, []string{"stage"}),

		FinalSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "saubol_final_segments_total",
			Help: "Total number of finalized transcript segments",
		}),
		PartialTranscripts: f.NewCounter(prometheus.CounterOpts{
			Name: "saubol_partial_transcripts_total",
			Help: "Total number of partial transcripts received",
		}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "saubol_summaries_total",
			Help: "Total number of summary hand-offs, by result",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "saubol_http_requests_total",
			Help: "Total number of control API requests",
		}, []string{"method", "path", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RoomStarted records a started room worker.
func (m *Metrics) RoomStarted() {
	if m == nil {
		return
	}
	m.RoomsStarted.Inc()
	m.ActiveRooms.Inc()
}

// RoomFinished records a finished room worker.
func (m *Metrics) RoomFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveRooms.Dec()
	m.RoomsFinished.WithLabelValues(outcome).Inc()
}

// PipelineStarted records a started track pipeline.
func (m *Metrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.ActivePipelines.Inc()
}

// PipelineFinished records a finished track pipeline.
func (m *Metrics) PipelineFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActivePipelines.Dec()
	m.PipelineOutcomes.WithLabelValues(outcome).Inc()
}

// SummaryResult records a summary hand-off result.
func (m *Metrics) SummaryResult(result string) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(result).Inc()
}

// HTTPRequest records a control API request.
func (m *Metrics) HTTPRequest(method, path, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, code).Inc()
}
