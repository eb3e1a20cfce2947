package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "http_requests_total",
		Help:      "Total admin HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "transcoder",
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcoder",
		Name:      "jobs_active",
		Help:      "Number of transcode jobs currently in flight.",
	})

	JobsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "jobs_started_total",
		Help:      "Total number of transcode jobs accepted.",
	})

	JobsSucceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "jobs_succeeded_total",
		Help:      "Total number of transcode jobs that reached Finalize for every destination.",
	})

	JobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "jobs_failed_total",
		Help:      "Total number of transcode jobs that failed, by error kind.",
	}, []string{"kind"})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "transcoder",
		Name:      "job_duration_seconds",
		Help:      "Duration of a transcode job from accept to terminal reply.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	DestinationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcoder",
		Name:      "destinations_active",
		Help:      "Number of destination processors currently in the working state across all jobs.",
	})

	PreloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "preload_bytes_total",
		Help:      "Total bytes copied into local-temp by the MP4 source pre-loader.",
	})

	PreloadStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "preload_state_transitions_total",
		Help:      "Total MP4 pre-loader state transitions by from/to state.",
	}, []string{"from", "to"})

	PreloadAtomsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "preload_atoms_rejected_total",
		Help:      "Total atoms rejected by the pre-loader for an unrecognized type.",
	})

	EncodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "transcoder",
		Name:      "encode_duration_seconds",
		Help:      "Duration of one destination's encode pass, by container.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"container"})

	HLSSegmentsWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "hls_segments_written_total",
		Help:      "Total HLS media segments written to staging.",
	})

	HLSPlaylistBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "hls_playlist_builds_total",
		Help:      "Total HLS playlist build attempts, by kind (master, secondary) and outcome.",
	}, []string{"kind", "outcome"})

	HLSPlaylistRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "hls_playlist_rate_limited_total",
		Help:      "Total master-playlist rebuilds rejected by the refresh-interval throttle.",
	})

	HLSKeyRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "hls_key_rotations_total",
		Help:      "Total AES-128 key rotations performed across all versions.",
	})

	HLSKeyEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "hls_key_evictions_total",
		Help:      "Total aged-out key generations evicted from a key ring.",
	})

	StorageSpillBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcoder",
		Name:      "storage_local_spill_bytes",
		Help:      "Current bytes spilled to disk by the local storage backend's LRU.",
	})

	StorageBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "storage_bytes_total",
		Help:      "Total bytes read or written per storage alias and direction.",
	}, []string{"alias", "direction"})

	RPCRepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "rpc_replies_total",
		Help:      "Total RPC replies emitted, by kind (progress, success, error).",
	}, []string{"kind"})

	RPCReplyPollTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcoder",
		Name:      "rpc_reply_poll_timeouts_total",
		Help:      "Total reply polls that exhausted MaxNumTimerEvents without a match.",
	})

	DiskPressureBackoffActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcoder",
		Name:      "disk_pressure_backoff_active",
		Help:      "1 if new job admission is currently refused due to low disk space, 0 otherwise.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsActive,
		JobsStartedTotal,
		JobsSucceededTotal,
		JobsFailedTotal,
		JobDuration,
		DestinationsActive,
		PreloadBytesTotal,
		PreloadStateTransitionsTotal,
		PreloadAtomsRejectedTotal,
		EncodeDuration,
		HLSSegmentsWrittenTotal,
		HLSPlaylistBuildsTotal,
		HLSPlaylistRateLimitedTotal,
		HLSKeyRotationsTotal,
		HLSKeyEvictionsTotal,
		StorageSpillBytes,
		StorageBytesTotal,
		RPCRepliesTotal,
		RPCReplyPollTimeoutsTotal,
		DiskPressureBackoffActive,
	)
}
