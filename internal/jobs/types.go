package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeDetectRecurring runs recurring payment detection for a user.
	JobTypeDetectRecurring JobType = "detect_recurring"
	// JobTypeGenerateInsights regenerates a user's insights snapshot.
	JobTypeGenerateInsights JobType = "generate_insights"
	// JobTypeIngestStatement imports an uploaded statement file.
	JobTypeIngestStatement JobType = "ingest_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries bounds retries per job. Backoff between attempts is
// linear in seconds, not exponential.
const DefaultMaxRetries = 2

// ErrAlreadyQueued is returned when a job of the same type is already
// pending or running for the user. The caller should report the existing
// job rather than queueing another.
var ErrAlreadyQueued = errors.New("jobs: equivalent job already queued for user")

// AnalysisJob is one background unit of work scoped to a single user.
type AnalysisJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Type selects the handler for this job.
	Type JobType `json:"type"`

	// UserID scopes the job to one user.
	UserID string `json:"user_id"`

	// DocumentID is set for statement ingest jobs.
	DocumentID string `json:"document_id,omitempty"`

	// GCSURI is the uploaded statement's storage location, set for ingest jobs.
	GCSURI string `json:"gcs_uri,omitempty"`

	// ForceRefresh bypasses caches for detection and insights jobs.
	ForceRefresh bool `json:"force_refresh,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Active reports whether the job still occupies its user's slot for
// coalescing purposes.
func (j *AnalysisJob) Active() bool {
	switch j.Status {
	case JobStatusPending, JobStatusRunning, JobStatusRetrying:
		return true
	default:
		return false
	}
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory,
// Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishAnalysis publishes a background analysis job. Returns
	// ErrAlreadyQueued when an equivalent job is already active for the
	// user.
	PublishAnalysis(ctx context.Context, job *AnalysisJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *AnalysisJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalysisJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalysisJob, error)

	// FindActive returns the user's pending, running or retrying job of
	// the given type, or nil when none exists.
	FindActive(ctx context.Context, userID string, jobType JobType) (*AnalysisJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by user.
	UserID string

	// Type filters jobs by job type.
	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
