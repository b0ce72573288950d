package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMediaType is returned before any network call when the
	// upload's content type has no provider media format.
	ErrUnsupportedMediaType = errors.New("unsupported audio format")

	// ErrEmptyMedia is returned before any network call for a zero-length upload.
	ErrEmptyMedia = errors.New("audio file is required and must not be empty")

	// ErrTranscriptionTimeout is returned when the job has not finished by its deadline.
	ErrTranscriptionTimeout = errors.New("transcription timed out")

	// ErrPollingInterrupted is returned when the caller cancels while the job is being polled.
	ErrPollingInterrupted = errors.New("transcription polling interrupted")
)

// TranscriptionError reports a job the provider marked as failed, or any
// unexpected failure while submitting or resolving a job.
type TranscriptionError struct {
	// Reason is the provider's failure reason, verbatim, or a short description
	// of the step that failed.
	Reason string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription failed: %s: %v", e.Reason, e.Err)
	}
	return "transcription failed: " + e.Reason
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

func transcriptionFailure(reason string, err error) error {
	return &TranscriptionError{Reason: reason, Err: err}
}
