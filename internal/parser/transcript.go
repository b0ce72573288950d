package parser

import (
	"encoding/json"
	"fmt"

	"github.com/mawule-gabriel/synthesis/internal/confidence"
)

// TranscriptResult is the assembled output of a finished transcription job.
type TranscriptResult struct {
	Transcript   string  `json:"transcript"`
	Confidence   float64 `json:"confidence"`
	LanguageCode string  `json:"languageCode"`
}

// transcriptDocument mirrors the provider's result file:
// {"results": {"transcripts": [{"transcript"}], "items": [{"alternatives": [{"confidence", "content"}]}]}}
type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []struct {
			Alternatives []struct {
				Confidence number `json:"confidence"`
				Content    string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
	} `json:"results"`
}

// ParseTranscript reads the first transcript and averages the confidence of
// the top alternative of every item. Items without a confidence reading are
// left out of the average.
func ParseTranscript(body []byte, languageCode string) (*TranscriptResult, error) {
	var doc transcriptDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode transcript document: %w", err)
	}

	var transcript string
	if len(doc.Results.Transcripts) > 0 {
		transcript = doc.Results.Transcripts[0].Transcript
	}

	readings := make([]*float64, 0, len(doc.Results.Items))
	for _, item := range doc.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		readings = append(readings, item.Alternatives[0].Confidence.ptr())
	}

	return &TranscriptResult{
		Transcript:   transcript,
		Confidence:   confidence.Aggregate(readings),
		LanguageCode: languageCode,
	}, nil
}
