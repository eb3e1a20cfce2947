package ports

import (
	"context"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// JobRepository persists JobRecord audit-trail rows.
type JobRepository interface {
	Create(ctx context.Context, job domain.JobRecord) error
	Update(ctx context.Context, job domain.JobRecord) error
	Get(ctx context.Context, id string) (domain.JobRecord, error)
	ListRunning(ctx context.Context) ([]domain.JobRecord, error)
	Delete(ctx context.Context, id string) error
}
