package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
	"github.com/mawule-gabriel/synthesis/pkg/resilience"
)

const anthropicVersion = "bedrock-2023-05-31"

// ErrEmptyCompletion is returned when the model answers without any text block.
var ErrEmptyCompletion = errors.New("model returned no text content")

// invokeAPI is the subset of the Bedrock runtime client used by Client.
type invokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Options struct {
	ModelID        string
	MaxTokens      int
	Temperature    float64
	RequestsPerMin int
	Retry          *resilience.RetryConfig
}

// Client sends prompts to an Anthropic model hosted on Amazon Bedrock.
type Client struct {
	api     invokeAPI
	opts    Options
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

func NewClient(cfg aws.Config, opts Options) *Client {
	return newClient(bedrockruntime.NewFromConfig(cfg), opts)
}

func newClient(api invokeAPI, opts Options) *Client {
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 30
	}

	return &Client{
		api:     api,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("bedrock", 5, 30*time.Second),
		limiter: resilience.NewRateLimiter(opts.RequestsPerMin, time.Minute/time.Duration(opts.RequestsPerMin)),
	}
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type invokeResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends a text prompt and returns the model's raw reply.
func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	return c.invoke(ctx, "text", []contentBlock{{Type: "text", Text: prompt}})
}

// InvokeVision sends an image followed by a text prompt.
func (c *Client) InvokeVision(ctx context.Context, image []byte, mediaType, prompt string) (string, error) {
	return c.invoke(ctx, "vision", []contentBlock{
		{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(image),
			},
		},
		{Type: "text", Text: prompt},
	})
}

func (c *Client) invoke(ctx context.Context, operation string, content []contentBlock) (string, error) {
	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.opts.MaxTokens,
		Temperature:      c.opts.Temperature,
		Messages:         []message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var out *bedrockruntime.InvokeModelOutput

	err = resilience.RetryWithExponentialBackoff(ctx, c.opts.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return resilience.Permanent(err)
		}

		err := c.breaker.Execute(func() error {
			var err error
			out, err = c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     aws.String(c.opts.ModelID),
				Body:        body,
				ContentType: aws.String("application/json"),
				Accept:      aws.String("application/json"),
			})
			return err
		})
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	})

	metrics.ModelLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ModelInvocations.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("failed to invoke model %s: %w", c.opts.ModelID, err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		metrics.ModelInvocations.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("failed to unmarshal model response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		metrics.ModelInvocations.WithLabelValues(operation, "empty").Inc()
		return "", ErrEmptyCompletion
	}

	metrics.ModelInvocations.WithLabelValues(operation, "ok").Inc()

	logger.Debug("Model invocation completed",
		zap.String("operation", operation),
		zap.String("model_id", c.opts.ModelID),
		zap.String("stop_reason", resp.StopReason),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return text.String(), nil
}

// retryable reports whether a failed call may succeed if repeated.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		validation   *types.ValidationException
		accessDenied *types.AccessDeniedException
		notFound     *types.ResourceNotFoundException
	)
	return !errors.As(err, &validation) && !errors.As(err, &accessDenied) && !errors.As(err, &notFound)
}
