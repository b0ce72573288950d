package transcribe

import (
	"time"

	"github.com/mawule-gabriel/synthesis/internal/parser"
)

// JobStatus is the lifecycle state of one transcription job.
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Job identifies one external transcription attempt.
type Job struct {
	ID           string
	MediaLocator string
	MediaFormat  MediaFormat
	Status       JobStatus
	StartedAt    time.Time
	Deadline     time.Time

	// Result is set once the job completed and its transcript was resolved.
	Result *parser.TranscriptResult
}

// IsTerminal returns true once the job can no longer change state
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

// ProviderStatus is one answer from the provider's status endpoint.
type ProviderStatus struct {
	Status        JobStatus
	ResultURI     string
	FailureReason string
}
