package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawule-gabriel/synthesis/pkg/resilience"
)

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(transcriptDoc))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), fastRetry())

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, transcriptDoc, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<Error>Request has expired</Error>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), fastRetry())

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "status=403")
	assert.Equal(t, int32(1), calls.Load())
}
