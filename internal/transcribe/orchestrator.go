package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/internal/parser"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultPollInterval   = 1 * time.Second
	DefaultCleanupTimeout = 10 * time.Second
	DefaultLanguageCode   = "en-US"
	DefaultJobPrefix      = "synthesis-"
	DefaultKeyPrefix      = "transcribe-"
)

// ObjectStore stages media where the provider can read it.
type ObjectStore interface {
	// UploadFile stores body under key and returns a URI the provider can read.
	UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

// Provider runs asynchronous transcription jobs.
type Provider interface {
	StartJob(ctx context.Context, name, mediaURI string, format MediaFormat, languageCode string) error
	JobStatus(ctx context.Context, name string) (*ProviderStatus, error)
}

// JobRemover is implemented by providers that can delete a job they started.
type JobRemover interface {
	DeleteJob(ctx context.Context, name string) error
}

// ResultFetcher downloads the transcript document of a completed job.
type ResultFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

type Options struct {
	Timeout        time.Duration
	PollInterval   time.Duration
	CleanupTimeout time.Duration
	LanguageCode   string
	JobPrefix      string
	KeyPrefix      string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	if o.LanguageCode == "" {
		o.LanguageCode = DefaultLanguageCode
	}
	if o.JobPrefix == "" {
		o.JobPrefix = DefaultJobPrefix
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	return o
}

// Request is one audio clip to transcribe.
type Request struct {
	// ID correlates the attempt with its caller in logs. Job names and object
	// keys get a fresh random suffix on every call.
	ID          string
	Audio       []byte
	ContentType string
	FileName    string
}

// Orchestrator drives a transcription job from media staging to a parsed
// transcript. The staged object is deleted exactly once on every path that
// reached the upload step, and a started job is deleted when the provider
// supports it.
type Orchestrator struct {
	store    ObjectStore
	provider Provider
	fetcher  ResultFetcher
	opts     Options
	now      func() time.Time
	newID    func() string
}

func NewOrchestrator(store ObjectStore, provider Provider, fetcher ResultFetcher, opts Options) *Orchestrator {
	return &Orchestrator{
		store:    store,
		provider: provider,
		fetcher:  fetcher,
		opts:     opts.withDefaults(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Transcribe stages req.Audio, runs a provider job and resolves its transcript.
//
// Unsupported or empty media fail before any network call and return a nil Job.
// Otherwise the returned Job is non-nil and carries the last known status, even
// when an error is returned. Errors are ErrUnsupportedMediaType, ErrEmptyMedia,
// ErrTranscriptionTimeout, ErrPollingInterrupted or a *TranscriptionError.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (*Job, error) {
	format, err := ResolveMediaFormat(req.ContentType)
	if err != nil {
		metrics.TranscriptionJobs.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if len(req.Audio) == 0 {
		metrics.TranscriptionJobs.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyMedia
	}

	// Job names are unique per attempt, never per request.
	id := o.newID()

	job := &Job{
		ID:           o.opts.JobPrefix + id,
		MediaLocator: o.opts.KeyPrefix + id + FileExtension(req.FileName, format),
		MediaFormat:  format,
	}

	log := logger.With(
		zap.String("request_id", req.ID),
		zap.String("job_name", job.ID),
		zap.String("media_key", job.MediaLocator))

	started := o.now()
	defer func() {
		metrics.TranscriptionDuration.Observe(o.now().Sub(started).Seconds())
	}()

	// Registered before the upload so a partially written object is removed too.
	defer o.cleanup(ctx, job, log)

	err = o.run(ctx, job, req, log)
	metrics.TranscriptionJobs.WithLabelValues(outcome(job, err)).Inc()
	if err != nil {
		log.Warn("Transcription did not complete",
			zap.String("status", string(job.Status)),
			zap.Error(err))
		return job, err
	}

	log.Info("Transcription completed",
		zap.Int("length", len(job.Result.Transcript)),
		zap.Float64("confidence", job.Result.Confidence))

	return job, nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job, req Request, log *zap.Logger) error {
	mediaURI, err := o.store.UploadFile(ctx, job.MediaLocator, bytes.NewReader(req.Audio), strings.ToLower(req.ContentType))
	if err != nil {
		return transcriptionFailure("failed to stage media", err)
	}

	log.Debug("Media staged", zap.String("media_uri", mediaURI), zap.Int("size", len(req.Audio)))

	if err := o.provider.StartJob(ctx, job.ID, mediaURI, job.MediaFormat, o.opts.LanguageCode); err != nil {
		return transcriptionFailure("failed to start transcription job", err)
	}

	job.Status = JobStatusSubmitted
	job.StartedAt = o.now()
	job.Deadline = job.StartedAt.Add(o.opts.Timeout)

	log.Info("Transcription job started",
		zap.String("media_format", string(job.MediaFormat)),
		zap.Time("deadline", job.Deadline))

	status, err := o.poll(ctx, job, log)
	if err != nil {
		return err
	}

	body, err := o.fetcher.Fetch(ctx, status.ResultURI)
	if err != nil {
		return transcriptionFailure("failed to fetch transcript", err)
	}

	result, err := parser.ParseTranscript(body, o.opts.LanguageCode)
	if err != nil {
		return transcriptionFailure("failed to parse transcript", err)
	}

	job.Result = result
	return nil
}

// poll queries the job status once per interval. The status is checked before
// the deadline, so a job that completes on its final poll still succeeds.
func (o *Orchestrator) poll(ctx context.Context, job *Job, log *zap.Logger) (*ProviderStatus, error) {
	for {
		status, err := o.provider.JobStatus(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrPollingInterrupted, ctx.Err())
			}
			return nil, transcriptionFailure("failed to query job status", err)
		}

		switch status.Status {
		case JobStatusCompleted:
			job.Status = JobStatusCompleted
			return status, nil
		case JobStatusFailed:
			job.Status = JobStatusFailed
			return nil, &TranscriptionError{Reason: status.FailureReason}
		default:
			job.Status = JobStatusRunning
		}

		if o.now().After(job.Deadline) {
			job.Status = JobStatusTimedOut
			return nil, fmt.Errorf("%w after %s. Try a shorter audio clip (< 30 seconds recommended)",
				ErrTranscriptionTimeout, o.opts.Timeout)
		}

		log.Debug("Transcription in progress",
			zap.Duration("elapsed", o.now().Sub(job.StartedAt)))

		timer := time.NewTimer(o.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrPollingInterrupted, ctx.Err())
		case <-timer.C:
		}
	}
}

// cleanup deletes the staged object and, once submitted, the provider job.
// It runs even when ctx is already cancelled and never replaces the job's own
// outcome.
func (o *Orchestrator) cleanup(ctx context.Context, job *Job, log *zap.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CleanupTimeout)
	defer cancel()

	if remover, ok := o.provider.(JobRemover); ok && job.Status != "" {
		if err := remover.DeleteJob(cleanupCtx, job.ID); err != nil {
			metrics.CleanupFailures.WithLabelValues("job").Inc()
			log.Warn("Failed to delete transcription job", zap.Error(err))
		} else {
			log.Debug("Transcription job deleted")
		}
	}

	if err := o.store.DeleteFile(cleanupCtx, job.MediaLocator); err != nil {
		metrics.CleanupFailures.WithLabelValues("media").Inc()
		log.Warn("Failed to clean up staged media", zap.Error(err))
		return
	}

	log.Debug("Staged media deleted")
}

func outcome(job *Job, err error) string {
	if err == nil {
		return string(JobStatusCompleted)
	}
	switch job.Status {
	case JobStatusFailed, JobStatusTimedOut:
		return string(job.Status)
	}
	if errors.Is(err, ErrPollingInterrupted) {
		return "interrupted"
	}
	return "error"
}
