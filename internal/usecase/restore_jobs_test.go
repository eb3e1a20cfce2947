package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
)

func TestRestoreJobsFailsEachRunningJob(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		running: []domain.JobRecord{
			{ID: "job-1", Status: domain.JobStatusRunning},
			{ID: "job-2", Status: domain.JobStatusRunning},
		},
	}
	uc := &RestoreJobs{Repo: repo, Logger: discardLogger(), Now: func() time.Time { return fixed }}

	uc.Run(context.Background())

	if len(repo.updated) != 2 {
		t.Fatalf("expected both running jobs updated, got %d", len(repo.updated))
	}
	for _, job := range repo.updated {
		if job.Status != domain.JobStatusFailed {
			t.Errorf("expected job %s marked failed, got %s", job.ID, job.Status)
		}
		if job.ErrorMessage == "" {
			t.Errorf("expected job %s to carry an error message", job.ID)
		}
		if !job.UpdatedAt.Equal(fixed) {
			t.Errorf("expected job %s UpdatedAt stamped with injected clock", job.ID)
		}
	}
}

func TestRestoreJobsNoRunningJobsIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	uc := &RestoreJobs{Repo: repo, Logger: discardLogger()}

	uc.Run(context.Background())

	if len(repo.updated) != 0 {
		t.Fatalf("expected no updates when nothing is running, got %d", len(repo.updated))
	}
}

func TestRestoreJobsListErrorIsNonFatal(t *testing.T) {
	repo := &fakeRepo{runningErr: errors.New("mongo unavailable")}
	uc := &RestoreJobs{Repo: repo, Logger: discardLogger()}

	uc.Run(context.Background()) // must not panic

	if len(repo.updated) != 0 {
		t.Fatalf("expected no updates when ListRunning fails, got %d", len(repo.updated))
	}
}
