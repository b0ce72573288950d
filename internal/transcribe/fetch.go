package transcribe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mawule-gabriel/synthesis/pkg/resilience"
)

// maxTranscriptSize bounds the transcript document read into memory.
const maxTranscriptSize = 10 << 20

// HTTPFetcher downloads transcript documents from the presigned location the
// provider returns, retrying transient failures.
type HTTPFetcher struct {
	client *http.Client
	retry  *resilience.RetryConfig
}

func NewHTTPFetcher(client *http.Client, retry *resilience.RetryConfig) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retry == nil {
		retry = &resilience.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
		}
	}
	return &HTTPFetcher{client: client, retry: retry}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var body []byte

	err := resilience.RetryWithExponentialBackoff(ctx, f.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxTranscriptSize))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("transcript download failed: status=%d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return resilience.Permanent(fmt.Errorf("transcript download failed: status=%d, body=%s", resp.StatusCode, truncate(data, 200)))
		}

		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
