package bedrock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawule-gabriel/synthesis/pkg/resilience"
)

type fakeInvokeAPI struct {
	inputs    []*bedrockruntime.InvokeModelInput
	responses []string
	errs      []error
}

func (f *fakeInvokeAPI) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	i := len(f.inputs)
	f.inputs = append(f.inputs, params)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.responses[i])}, nil
}

func testOptions() Options {
	return Options{
		ModelID:        "anthropic.claude-3-sonnet",
		MaxTokens:      1024,
		Temperature:    0.2,
		RequestsPerMin: 600,
		Retry: &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

const completion = `{"content":[{"type":"text","text":"{\"differentials\": []}"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`

func TestClient_Invoke(t *testing.T) {
	api := &fakeInvokeAPI{responses: []string{completion}}
	c := newClient(api, testOptions())

	reply, err := c.Invoke(context.Background(), "Chest pain for two hours")
	require.NoError(t, err)
	assert.Equal(t, `{"differentials": []}`, reply)

	require.Len(t, api.inputs, 1)
	assert.Equal(t, "anthropic.claude-3-sonnet", aws.ToString(api.inputs[0].ModelId))

	var req invokeRequest
	require.NoError(t, json.Unmarshal(api.inputs[0].Body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req.AnthropicVersion)
	assert.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "Chest pain for two hours", req.Messages[0].Content[0].Text)
}

func TestClient_InvokeVision(t *testing.T) {
	api := &fakeInvokeAPI{responses: []string{completion}}
	c := newClient(api, testOptions())

	_, err := c.InvokeVision(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "image/jpeg", "Describe")
	require.NoError(t, err)

	var req invokeRequest
	require.NoError(t, json.Unmarshal(api.inputs[0].Body, &req))

	content := req.Messages[0].Content
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].Type)
	assert.Equal(t, "base64", content[0].Source.Type)
	assert.Equal(t, "image/jpeg", content[0].Source.MediaType)
	assert.Equal(t, "/9j/", content[0].Source.Data)
	assert.Equal(t, "Describe", content[1].Text)
}

func TestClient_RetriesThrottling(t *testing.T) {
	api := &fakeInvokeAPI{
		errs:      []error{&types.ThrottlingException{Message: aws.String("slow down")}, nil},
		responses: []string{"", completion},
	}
	c := newClient(api, testOptions())

	_, err := c.Invoke(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Len(t, api.inputs, 2)
}

func TestClient_ValidationIsNotRetried(t *testing.T) {
	api := &fakeInvokeAPI{
		errs: []error{&types.ValidationException{Message: aws.String("prompt too long")}},
	}
	c := newClient(api, testOptions())

	_, err := c.Invoke(context.Background(), "prompt")

	var validation *types.ValidationException
	assert.ErrorAs(t, err, &validation)
	assert.Len(t, api.inputs, 1)
}

func TestClient_EmptyCompletion(t *testing.T) {
	api := &fakeInvokeAPI{responses: []string{`{"content":[],"stop_reason":"max_tokens"}`}}
	c := newClient(api, testOptions())

	_, err := c.Invoke(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
