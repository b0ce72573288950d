package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (m *MockObjectAPI) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	return &s3.DeleteObjectOutput{}, args.Error(0)
}

func TestS3Storage_UploadFile(t *testing.T) {
	api := new(MockObjectAPI)
	store := &S3Storage{client: api, bucket: "clinical-media"}

	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		return aws.ToString(in.Bucket) == "clinical-media" &&
			aws.ToString(in.Key) == "transcribe-1.wav" &&
			aws.ToString(in.ContentType) == "audio/wav" &&
			string(body) == "RIFF"
	})).Return(nil)

	uri, err := store.UploadFile(context.Background(), "transcribe-1.wav", strings.NewReader("RIFF"), "audio/wav")
	require.NoError(t, err)

	assert.Equal(t, "s3://clinical-media/transcribe-1.wav", uri)
	api.AssertExpectations(t)
}

func TestS3Storage_DeleteFile(t *testing.T) {
	api := new(MockObjectAPI)
	store := &S3Storage{client: api, bucket: "clinical-media"}

	api.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "transcribe-1.wav"
	})).Return(errors.New("AccessDenied")).Once()

	err := store.DeleteFile(context.Background(), "transcribe-1.wav")
	assert.ErrorContains(t, err, "AccessDenied")
	api.AssertExpectations(t)
}
