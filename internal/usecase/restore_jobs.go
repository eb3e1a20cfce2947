package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// RestoreJobs reconciles job bookkeeping at worker startup, the transcode
// analog of the teacher's restoreTorrents: any JobRecord still "running"
// belonged to a process that no longer exists, so unlike a torrent session
// (which can reopen from its on-disk piece store) a fanned-out transcode
// has no persisted pre-loader offset or storage-map phase to resume from.
// Restoring its bookkeeping means transitioning it to a terminal state
// rather than leaving it stuck "running" forever.
type RestoreJobs struct {
	Repo   ports.JobRepository
	Logger *slog.Logger
	Now    func() time.Time
}

// Run lists jobs left running by an unclean shutdown and fails them, so a
// client polling job status (or the admin UI) observes a terminal result
// instead of a job that silently never progresses again.
func (r *RestoreJobs) Run(ctx context.Context) {
	now := r.Now
	if now == nil {
		now = time.Now
	}

	running, err := r.Repo.ListRunning(ctx)
	if err != nil {
		r.Logger.Warn("restore_jobs: list running failed", slog.String("error", err.Error()))
		return
	}
	if len(running) == 0 {
		return
	}

	r.Logger.Info("restore_jobs: reconciling jobs interrupted by restart", slog.Int("count", len(running)))

	for _, job := range running {
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = "job interrupted by worker restart"
		job.UpdatedAt = now()
		if err := r.Repo.Update(ctx, job); err != nil {
			r.Logger.Warn("restore_jobs: failed to mark job failed",
				slog.String("jobId", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.JobsFailedTotal.WithLabelValues(string(domain.ErrKindService)).Inc()
	}
}
