// Package metrics exposes worker counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksProcessed counts finished tasks by terminal status.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_worker_tasks_total",
		Help: "Tasks processed, labelled by terminal status.",
	}, []string{"status"})

	// FramesForwarded counts audio frames sent to the transcription backend.
	FramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_worker_audio_frames_forwarded_total",
		Help: "Audio frames forwarded to the transcription backend.",
	})

	// UtterancesFinalized counts finalized transcript utterances.
	UtterancesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_worker_utterances_finalized_total",
		Help: "Finalized utterances appended to transcripts.",
	})

	// TaskDuration observes end-to-end task duration in seconds.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_worker_task_duration_seconds",
		Help:    "End-to-end task duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
