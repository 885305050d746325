// Package metrics registers the process-wide Prometheus collectors used
// by the stream multiplexing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams is the number of ActiveStream entries currently in
	// the registry.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fritztv_active_streams",
		Help: "Number of channels with a live ActiveStream entry.",
	})

	// TunerSlotsInUse is the number of tuner slots currently occupied by
	// at least one active stream.
	TunerSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fritztv_tuner_slots_in_use",
		Help: "Number of distinct tuner slots currently occupied.",
	})

	// TranscoderCPUPercent is the per-channel CPU usage of the
	// transcoder child process, sampled every 5 seconds.
	TranscoderCPUPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fritztv_transcoder_cpu_percent",
		Help: "CPU usage percentage of the transcoder process for a channel.",
	}, []string{"stream_id"})

	// FragmentsBroadcast counts fragments published to subscribers.
	FragmentsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fritztv_fragments_broadcast_total",
		Help: "Total fMP4 fragments broadcast, by stream.",
	}, []string{"stream_id"})

	// BroadcastLagEvents counts lag notifications delivered to
	// subscribers.
	BroadcastLagEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fritztv_broadcast_lag_total",
		Help: "Total lag notifications delivered to lagging subscribers.",
	}, []string{"stream_id"})

	// TranscoderExits classifies transcoder process exits.
	TranscoderExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fritztv_transcoder_exit_total",
		Help: "Transcoder process exits, by classification.",
	}, []string{"stream_id", "reason"})

	// HLSPlaylistReadyDuration measures the time from session creation
	// until the HLS playlist first becomes ready.
	HLSPlaylistReadyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fritztv_hls_playlist_ready_seconds",
		Help:    "Time from HLS session creation until the playlist first appears.",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20},
	})

	// StreamAdmissions classifies admission outcomes.
	StreamAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fritztv_stream_admission_total",
		Help: "Stream admission attempts, by outcome.",
	}, []string{"outcome"})
)

// ResetTranscoderCPU removes the CPU gauge entry for a stream once its
// transcoder is torn down, so stale channel-id labels do not linger.
func ResetTranscoderCPU(streamID string) {
	TranscoderCPUPercent.DeleteLabelValues(streamID)
}
