package domain

import "time"

// JobStatus is the durable lifecycle state of one transcode job, distinct
// from the in-memory phase tracked by the storage-map coordinator while the
// job is actively running.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// VersionResult is the per-version outcome recorded once a destination
// finishes (or fails) processing.
type VersionResult struct {
	Label     VersionLabel `json:"label"`
	Container string       `json:"container"`
	Succeeded bool         `json:"succeeded"`
	Detail    string       `json:"detail,omitempty"`
}

// JobProgressEvent is the payload broadcast over the admin WebSocket feed
// as a job moves through the storage-map's phases. It mirrors JobRecord's
// identifying fields without the full version/error detail.
type JobProgressEvent struct {
	JobID      string    `json:"job_id"`
	ResourceID string    `json:"resource_id"`
	Phase      string    `json:"phase"`
	Status     JobStatus `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobRecord is the durable audit-trail row for one transcode request,
// persisted so a restarted worker can report on jobs that were in flight at
// shutdown. It is independent of the storage-map's in-memory fan-out state.
type JobRecord struct {
	ID            string          `json:"id"`
	ResourceID    string          `json:"resource_id"`
	UserID        uint32          `json:"usr_id"`
	LastUploadReq uint32          `json:"last_upld_req"`
	CorrelationID string          `json:"correlation_id"`
	Status        JobStatus       `json:"status"`
	Versions      []VersionResult `json:"versions"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
