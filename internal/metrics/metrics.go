package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SessionsActive    *prometheus.GaugeVec
	SessionsTotal     *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	AudioBytes        prometheus.Counter
	TranscriptResults *prometheus.CounterVec
	TurnsTotal        *prometheus.CounterVec
	Summaries         *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide collectors, registering them on first use.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(
			global.SessionsActive,
			global.SessionsTotal,
			global.FramesReceived,
			global.AudioBytes,
			global.TranscriptResults,
			global.TurnsTotal,
			global.Summaries,
		)
	})
	return global
}

// New builds an unregistered set of collectors, useful in tests.
func New() *Metrics {
	return &Metrics{
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmwebchat",
			Name:      "sessions_active",
			Help:      "Open websocket sessions by kind",
		}, []string{"kind"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "sessions_total",
			Help:      "Websocket sessions opened by kind",
		}, []string{"kind"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "frames_received_total",
			Help:      "Inbound websocket frames by session kind and frame class",
		}, []string{"kind", "frame"}),
		AudioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "audio_bytes_total",
			Help:      "PCM bytes received on dictation sessions",
		}),
		TranscriptResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "transcript_results_total",
			Help:      "Transcription results forwarded to clients by type",
		}, []string{"type"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome",
		}, []string{"outcome"}),
		Summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmwebchat",
			Name:      "summaries_total",
			Help:      "Assistant summaries by source (heuristic, model, fallback)",
		}, []string{"source"}),
	}
}
