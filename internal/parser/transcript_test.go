package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTranscript(t *testing.T) {
	body := []byte(`{
  "jobName": "synthesis-1",
  "results": {
    "transcripts": [{"transcript": "Patient reports chest pain."}],
    "items": [
      {"type": "pronunciation", "alternatives": [{"confidence": "0.91", "content": "Patient"}]},
      {"type": "pronunciation", "alternatives": [{"confidence": "0.87", "content": "reports"}]},
      {"type": "punctuation", "alternatives": [{"confidence": "", "content": "."}]},
      {"type": "pronunciation", "alternatives": [{"confidence": 0.95, "content": "pain"}]},
      {"type": "pronunciation", "alternatives": []}
    ]
  },
  "status": "COMPLETED"
}`)

	result, err := ParseTranscript(body, "en-US")
	require.NoError(t, err)

	assert.Equal(t, "Patient reports chest pain.", result.Transcript)
	assert.Equal(t, 0.91, result.Confidence)
	assert.Equal(t, "en-US", result.LanguageCode)
}

func TestParseTranscript_Empty(t *testing.T) {
	result, err := ParseTranscript([]byte(`{"results": {"transcripts": [], "items": []}}`), "en-US")
	require.NoError(t, err)

	assert.Equal(t, "", result.Transcript)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestParseTranscript_InvalidDocument(t *testing.T) {
	_, err := ParseTranscript([]byte(`<html>Access Denied</html>`), "en-US")
	assert.Error(t, err)

	_, err = ParseTranscript([]byte(`{"results": {"items": [{"alternatives": [{"confidence": "n/a"}]}]}}`), "en-US")
	assert.Error(t, err)
}
