package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) UploadFile(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockObjectStore) DeleteFile(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) StartJob(ctx context.Context, name, mediaURI string, format MediaFormat, languageCode string) error {
	args := m.Called(ctx, name, mediaURI, format, languageCode)
	return args.Error(0)
}

func (m *MockProvider) JobStatus(ctx context.Context, name string) (*ProviderStatus, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderStatus), args.Error(1)
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	args := m.Called(ctx, uri)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

const transcriptDoc = `{
  "jobName": "synthesis-abc",
  "results": {
    "transcripts": [{"transcript": "Fever for three days."}],
    "items": [
      {"alternatives": [{"confidence": "0.9", "content": "Fever"}]},
      {"alternatives": [{"confidence": "0.8", "content": "for"}]}
    ]
  }
}`

var (
	running   = &ProviderStatus{Status: JobStatusRunning}
	completed = &ProviderStatus{Status: JobStatusCompleted, ResultURI: "https://results.example/abc.json"}
)

func newTestOrchestrator(opts Options) (*Orchestrator, *MockObjectStore, *MockProvider, *MockFetcher) {
	store := new(MockObjectStore)
	provider := new(MockProvider)
	fetcher := new(MockFetcher)
	o := NewOrchestrator(store, provider, fetcher, opts)
	o.newID = func() string { return "abc" }
	return o, store, provider, fetcher
}

// MockRemovingProvider also deletes jobs.
type MockRemovingProvider struct {
	MockProvider
}

func (m *MockRemovingProvider) DeleteJob(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func wavRequest() Request {
	return Request{
		ID:          "task-1",
		Audio:       []byte("RIFF....WAVEfmt "),
		ContentType: "audio/wav",
		FileName:    "consult.wav",
	}
}

func TestOrchestrator_Transcribe_Success(t *testing.T) {
	o, store, provider, fetcher := newTestOrchestrator(Options{PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	store.On("UploadFile", ctx, "transcribe-abc.wav", mock.Anything, "audio/wav").
		Return("s3://media/transcribe-abc.wav", nil)
	provider.On("StartJob", ctx, "synthesis-abc", "s3://media/transcribe-abc.wav", MediaFormatWAV, "en-US").
		Return(nil)
	provider.On("JobStatus", ctx, "synthesis-abc").Return(running, nil).Once()
	provider.On("JobStatus", ctx, "synthesis-abc").Return(completed, nil).Once()
	fetcher.On("Fetch", ctx, completed.ResultURI).Return([]byte(transcriptDoc), nil)
	store.On("DeleteFile", mock.Anything, "transcribe-abc.wav").Return(nil).Once()

	job, err := o.Transcribe(ctx, wavRequest())
	require.NoError(t, err)

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.True(t, job.IsTerminal())
	assert.Equal(t, "Fever for three days.", job.Result.Transcript)
	assert.Equal(t, 0.85, job.Result.Confidence)
	assert.Equal(t, "en-US", job.Result.LanguageCode)
	assert.Equal(t, job.StartedAt.Add(DefaultTimeout), job.Deadline)

	store.AssertExpectations(t)
	provider.AssertExpectations(t)
	fetcher.AssertExpectations(t)
}

func TestOrchestrator_Transcribe_Timeout(t *testing.T) {
	o, store, provider, fetcher := newTestOrchestrator(Options{
		Timeout:      30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, "synthesis-abc").Return(running, nil)
	store.On("DeleteFile", mock.Anything, "transcribe-abc.wav").Return(nil)

	job, err := o.Transcribe(context.Background(), wavRequest())

	assert.ErrorIs(t, err, ErrTranscriptionTimeout)
	assert.Contains(t, err.Error(), "shorter audio clip")
	assert.Equal(t, JobStatusTimedOut, job.Status)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestOrchestrator_Transcribe_StatusCheckedBeforeDeadline(t *testing.T) {
	// A deadline that has already passed on the first poll.
	o, store, provider, fetcher := newTestOrchestrator(Options{Timeout: time.Nanosecond})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).Return(completed, nil).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil)
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(nil)

	// Let the nanosecond deadline lapse before the first status check.
	now := time.Now()
	calls := 0
	o.now = func() time.Time {
		calls++
		return now.Add(time.Duration(calls) * time.Second)
	}

	job, err := o.Transcribe(context.Background(), wavRequest())

	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
}

func TestOrchestrator_Transcribe_ProviderFailure(t *testing.T) {
	o, store, provider, fetcher := newTestOrchestrator(Options{})

	reason := "The media format provided does not match the detected media format."

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).
		Return(&ProviderStatus{Status: JobStatusFailed, FailureReason: reason}, nil)
	store.On("DeleteFile", mock.Anything, "transcribe-abc.wav").Return(nil)

	job, err := o.Transcribe(context.Background(), wavRequest())

	var transcriptionErr *TranscriptionError
	require.ErrorAs(t, err, &transcriptionErr)
	assert.Equal(t, reason, transcriptionErr.Reason)
	assert.Contains(t, err.Error(), reason)
	assert.Equal(t, JobStatusFailed, job.Status)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestOrchestrator_Transcribe_Interrupted(t *testing.T) {
	o, store, provider, _ := newTestOrchestrator(Options{PollInterval: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(running, nil).Once()

	// Cleanup must not inherit the caller's cancellation.
	liveContext := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	store.On("DeleteFile", liveContext, "transcribe-abc.wav").Return(nil).Once()

	start := time.Now()
	job, err := o.Transcribe(ctx, wavRequest())

	assert.ErrorIs(t, err, ErrPollingInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, JobStatusRunning, job.Status)
	store.AssertExpectations(t)
}

func TestOrchestrator_Transcribe_RejectsBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"ogg voice note", Request{Audio: []byte("OggS"), ContentType: "audio/ogg"}, ErrUnsupportedMediaType},
		{"image", Request{Audio: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}, ErrUnsupportedMediaType},
		{"missing content type", Request{Audio: []byte("data")}, ErrUnsupportedMediaType},
		{"empty audio", Request{ContentType: "audio/wav"}, ErrEmptyMedia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, store, provider, fetcher := newTestOrchestrator(Options{})

			job, err := o.Transcribe(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)
			store.AssertNotCalled(t, "UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "DeleteFile", mock.Anything, mock.Anything)
			provider.AssertNotCalled(t, "StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_Transcribe_CleanupFailureIsSwallowed(t *testing.T) {
	o, store, provider, fetcher := newTestOrchestrator(Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).Return(completed, nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil)
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(errors.New("access denied"))

	job, err := o.Transcribe(context.Background(), wavRequest())

	require.NoError(t, err)
	assert.Equal(t, "Fever for three days.", job.Result.Transcript)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
}

func TestOrchestrator_Transcribe_UploadFailureStillCleansUp(t *testing.T) {
	o, store, provider, _ := newTestOrchestrator(Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection reset"))
	store.On("DeleteFile", mock.Anything, "transcribe-abc.wav").Return(nil)

	job, err := o.Transcribe(context.Background(), wavRequest())

	var transcriptionErr *TranscriptionError
	require.ErrorAs(t, err, &transcriptionErr)
	assert.Empty(t, job.Status)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
	provider.AssertNotCalled(t, "StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_Transcribe_SubmitFailure(t *testing.T) {
	o, store, provider, _ := newTestOrchestrator(Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("LimitExceededException"))
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(nil)

	_, err := o.Transcribe(context.Background(), wavRequest())

	var transcriptionErr *TranscriptionError
	require.ErrorAs(t, err, &transcriptionErr)
	assert.Contains(t, err.Error(), "LimitExceededException")
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
	provider.AssertNotCalled(t, "JobStatus", mock.Anything, mock.Anything)
}

func TestOrchestrator_Transcribe_ContentTypeIsCaseInsensitive(t *testing.T) {
	o, store, provider, fetcher := newTestOrchestrator(Options{})

	store.On("UploadFile", mock.Anything, "transcribe-abc.mp3", mock.Anything, "audio/mpeg").Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, MediaFormatMP3, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).Return(completed, nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil)
	store.On("DeleteFile", mock.Anything, "transcribe-abc.mp3").Return(nil)

	_, err := o.Transcribe(context.Background(), Request{ID: "task-1", Audio: []byte("ID3"), ContentType: "AUDIO/MPEG"})

	require.NoError(t, err)
	store.AssertExpectations(t)
	provider.AssertExpectations(t)
}

// uniqueNameProvider refuses a job name it has already accepted.
type uniqueNameProvider struct {
	names []string
}

func (p *uniqueNameProvider) StartJob(_ context.Context, name, _ string, _ MediaFormat, _ string) error {
	for _, n := range p.names {
		if n == name {
			return fmt.Errorf("ConflictException: job name %s already exists", name)
		}
	}
	p.names = append(p.names, name)
	return nil
}

func (p *uniqueNameProvider) JobStatus(context.Context, string) (*ProviderStatus, error) {
	return completed, nil
}

func TestOrchestrator_Transcribe_FreshJobNamePerAttempt(t *testing.T) {
	store := new(MockObjectStore)
	fetcher := new(MockFetcher)
	provider := &uniqueNameProvider{}
	o := NewOrchestrator(store, provider, fetcher, Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("transient 503")).Once()
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil).Once()
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(nil)

	// Same request twice, as a redelivered task would send it.
	first, err := o.Transcribe(context.Background(), wavRequest())
	require.ErrorContains(t, err, "transient 503")

	second, err := o.Transcribe(context.Background(), wavRequest())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.MediaLocator, second.MediaLocator)
	assert.Equal(t, []string{first.ID, second.ID}, provider.names)
	for _, job := range []*Job{first, second} {
		assert.Regexp(t, `^synthesis-[0-9a-f-]{36}$`, job.ID)
		assert.Regexp(t, `^transcribe-[0-9a-f-]{36}\.wav$`, job.MediaLocator)
	}
	assert.Equal(t, "Fever for three days.", second.Result.Transcript)
}

func TestOrchestrator_Transcribe_DeletesProviderJob(t *testing.T) {
	tests := []struct {
		name    string
		status  *ProviderStatus
		cancels bool
		opts    Options
		wantErr error
	}{
		{
			name:   "completed",
			status: completed,
		},
		{
			name:    "timed out",
			status:  running,
			opts:    Options{Timeout: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
			wantErr: ErrTranscriptionTimeout,
		},
		{
			name:    "interrupted",
			status:  running,
			cancels: true,
			opts:    Options{PollInterval: time.Minute},
			wantErr: ErrPollingInterrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockObjectStore)
			provider := new(MockRemovingProvider)
			fetcher := new(MockFetcher)
			o := NewOrchestrator(store, provider, fetcher, tt.opts)
			o.newID = func() string { return "abc" }

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
			provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
			provider.On("JobStatus", mock.Anything, "synthesis-abc").
				Run(func(mock.Arguments) {
					if tt.cancels {
						cancel()
					}
				}).
				Return(tt.status, nil)
			fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil).Maybe()

			liveContext := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
			provider.On("DeleteJob", liveContext, "synthesis-abc").Return(nil).Once()
			store.On("DeleteFile", liveContext, "transcribe-abc.wav").Return(nil).Once()

			_, err := o.Transcribe(ctx, wavRequest())

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			provider.AssertExpectations(t)
			store.AssertExpectations(t)
		})
	}
}

func TestOrchestrator_Transcribe_NoJobDeletionBeforeSubmit(t *testing.T) {
	store := new(MockObjectStore)
	provider := new(MockRemovingProvider)
	o := NewOrchestrator(store, provider, new(MockFetcher), Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("LimitExceededException"))
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(nil)

	_, err := o.Transcribe(context.Background(), wavRequest())

	require.Error(t, err)
	provider.AssertNotCalled(t, "DeleteJob", mock.Anything, mock.Anything)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
}

func TestOrchestrator_Transcribe_JobDeletionFailureIsSwallowed(t *testing.T) {
	store := new(MockObjectStore)
	provider := new(MockRemovingProvider)
	fetcher := new(MockFetcher)
	o := NewOrchestrator(store, provider, fetcher, Options{})

	store.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://media/k", nil)
	provider.On("StartJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("JobStatus", mock.Anything, mock.Anything).Return(completed, nil)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte(transcriptDoc), nil)
	provider.On("DeleteJob", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	store.On("DeleteFile", mock.Anything, mock.Anything).Return(nil)

	job, err := o.Transcribe(context.Background(), wavRequest())

	require.NoError(t, err)
	assert.Equal(t, "Fever for three days.", job.Result.Transcript)
	store.AssertNumberOfCalls(t, "DeleteFile", 1)
}
