package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/pkg/logger"
)

// jobAPI is the subset of the Amazon Transcribe client used by Client.
type jobAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	DeleteTranscriptionJob(ctx context.Context, params *transcribe.DeleteTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.DeleteTranscriptionJobOutput, error)
}

// Client runs jobs on Amazon Transcribe.
type Client struct {
	api jobAPI
}

func NewClient(cfg aws.Config) *Client {
	return &Client{api: transcribe.NewFromConfig(cfg)}
}

func (c *Client) StartJob(ctx context.Context, name, mediaURI string, format MediaFormat, languageCode string) error {
	_, err := c.api.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
		LanguageCode:         types.LanguageCode(languageCode),
		MediaFormat:          types.MediaFormat(format),
		Media: &types.Media{
			MediaFileUri: aws.String(mediaURI),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start transcription job: %w", err)
	}

	logger.Debug("Transcription job submitted",
		zap.String("job_name", name),
		zap.String("media_uri", mediaURI))

	return nil
}

func (c *Client) JobStatus(ctx context.Context, name string) (*ProviderStatus, error) {
	out, err := c.api.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription job: %w", err)
	}
	if out.TranscriptionJob == nil {
		return nil, fmt.Errorf("transcription job %s not found", name)
	}

	job := out.TranscriptionJob
	status := &ProviderStatus{}

	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		status.Status = JobStatusCompleted
		if job.Transcript == nil || aws.ToString(job.Transcript.TranscriptFileUri) == "" {
			return nil, fmt.Errorf("transcription job %s completed without a transcript location", name)
		}
		status.ResultURI = aws.ToString(job.Transcript.TranscriptFileUri)
	case types.TranscriptionJobStatusFailed:
		status.Status = JobStatusFailed
		status.FailureReason = aws.ToString(job.FailureReason)
	default:
		status.Status = JobStatusRunning
	}

	return status, nil
}

// DeleteJob removes a job and its provider-managed transcript. A job that no
// longer exists counts as deleted.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	_, err := c.api.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete transcription job: %w", err)
	}

	logger.Debug("Transcription job deleted", zap.String("job_name", name))
	return nil
}
