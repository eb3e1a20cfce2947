package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/metalalive/transcoder-core/internal/metrics"
)

// DiskPressure periodically checks available disk space on the local
// pre-load/staging directory and refuses admission of new transcode jobs
// while free space stays below MinFreeBytes. Admission resumes once free
// space recovers past ResumeBytes (hysteresis prevents rapid flapping).
type DiskPressure struct {
	Logger       *slog.Logger
	DataDir      string
	MinFreeBytes int64 // threshold below which new jobs are refused
	ResumeBytes  int64 // threshold above which admission resumes
	Interval     time.Duration

	// diskFreeFunc is overridable in tests; defaults to diskFreeBytes.
	diskFreeFunc func(path string) (int64, error)

	blocked atomic.Bool
}

// Allowed reports whether a new transcode job may currently be admitted.
// The RPC consumer calls this before accepting a request off the queue.
func (dp *DiskPressure) Allowed() bool {
	return !dp.blocked.Load()
}

// Run starts the periodic disk pressure check loop. It blocks until ctx is
// cancelled.
func (dp *DiskPressure) Run(ctx context.Context) {
	interval := dp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if dp.ResumeBytes <= dp.MinFreeBytes {
		dp.ResumeBytes = dp.MinFreeBytes * 2
	}
	freeFunc := dp.diskFreeFunc
	if freeFunc == nil {
		freeFunc = diskFreeBytes
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			free, err := freeFunc(dp.DataDir)
			if err != nil {
				dp.Logger.Warn("disk_pressure: failed to check disk space",
					slog.String("path", dp.DataDir),
					slog.String("error", err.Error()),
				)
				continue
			}

			paused := dp.blocked.Load()
			if !paused && free < dp.MinFreeBytes {
				dp.Logger.Warn("disk_pressure: low disk space, refusing new job admission",
					slog.Int64("freeBytes", free),
					slog.Int64("thresholdBytes", dp.MinFreeBytes),
				)
				dp.blocked.Store(true)
				metrics.DiskPressureBackoffActive.Set(1)
			} else if paused && free >= dp.ResumeBytes {
				dp.Logger.Info("disk_pressure: disk space recovered, resuming job admission",
					slog.Int64("freeBytes", free),
					slog.Int64("resumeBytes", dp.ResumeBytes),
				)
				dp.blocked.Store(false)
				metrics.DiskPressureBackoffActive.Set(0)
			}
		}
	}
}
