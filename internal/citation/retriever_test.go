package citation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mawule-gabriel/synthesis/pkg/cache"
)

type fakeRetrieveAPI struct {
	input *bedrockagentruntime.RetrieveInput
	out   *bedrockagentruntime.RetrieveOutput
	err   error
}

func (f *fakeRetrieveAPI) Retrieve(_ context.Context, params *bedrockagentruntime.RetrieveInput, _ ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestKnowledgeBase_Retrieve(t *testing.T) {
	api := &fakeRetrieveAPI{out: &bedrockagentruntime.RetrieveOutput{
		RetrievalResults: []types.KnowledgeBaseRetrievalResult{
			{
				Content: &types.RetrievalResultContent{Text: aws.String("Give amoxicillin 40mg/kg.")},
				Location: &types.RetrievalResultLocation{
					Type:       types.RetrievalResultLocationTypeS3,
					S3Location: &types.RetrievalResultS3Location{Uri: aws.String("s3://kb/who_pneumonia-guide.pdf")},
				},
				Score: aws.Float64(0.82),
			},
			{
				Content: &types.RetrievalResultContent{Text: aws.String("")},
			},
			{
				Content: &types.RetrievalResultContent{Text: aws.String("Check for stiff neck.")},
				Location: &types.RetrievalResultLocation{
					Type:        types.RetrievalResultLocationTypeWeb,
					WebLocation: &types.RetrievalResultWebLocation{Url: aws.String("https://guidelines.example.org/meningitis")},
				},
			},
		},
	}}
	kb := &KnowledgeBase{api: api, id: "KB123", maxResults: 5}

	citations, err := kb.Retrieve(context.Background(), "fever treatment guidelines")
	require.NoError(t, err)

	assert.Equal(t, "KB123", aws.ToString(api.input.KnowledgeBaseId))
	assert.Equal(t, "fever treatment guidelines", aws.ToString(api.input.RetrievalQuery.Text))
	assert.Equal(t, int32(5), aws.ToInt32(api.input.RetrievalConfiguration.VectorSearchConfiguration.NumberOfResults))

	require.Len(t, citations, 2)
	assert.Equal(t, Citation{
		ID:      "s3://kb/who_pneumonia-guide.pdf",
		Title:   "who pneumonia guide",
		Snippet: "Give amoxicillin 40mg/kg.",
		Source:  "S3",
		Score:   0.82,
	}, citations[0])
	assert.Equal(t, "meningitis", citations[1].Title)
	assert.Equal(t, "guidelines.example.org", citations[1].Source)
}

func TestKnowledgeBase_RetrieveError(t *testing.T) {
	kb := &KnowledgeBase{api: &fakeRetrieveAPI{err: errors.New("ResourceNotFound")}, id: "KB123", maxResults: 5}

	_, err := kb.Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "KB123")
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string) ([]Citation, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Citation), args.Error(1)
}

func TestCachedRetriever(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer c.Close()

	next := new(MockRetriever)
	next.On("Retrieve", mock.Anything, "chest pain guidelines").Return(guidelines[:1], nil).Once()

	r := NewCachedRetriever(next, c, "KB123")

	first, err := r.Retrieve(context.Background(), "chest pain guidelines")
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "Chest  pain guidelines")
	require.NoError(t, err)

	assert.Equal(t, guidelines[:1], first)
	assert.Equal(t, first, second)
	next.AssertNumberOfCalls(t, "Retrieve", 1)
}

func TestCachedRetriever_ErrorsAreNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer c.Close()

	next := new(MockRetriever)
	next.On("Retrieve", mock.Anything, "q").Return(nil, errors.New("throttled")).Once()
	next.On("Retrieve", mock.Anything, "q").Return([]Citation{}, nil).Once()

	r := NewCachedRetriever(next, c, "KB123")

	_, err := r.Retrieve(context.Background(), "q")
	assert.Error(t, err)

	got, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, got)
}
