package parser

import (
	"encoding/json"

	"github.com/mawule-gabriel/synthesis/pkg/logger"

	"go.uber.org/zap"
)

// ImageAnalysis is the typed form of an image-analysis reply.
type ImageAnalysis struct {
	Description string   `json:"description"`
	Findings    []string `json:"findings"`
}

// ParseImageAnalysis extracts a description and findings from a vision reply.
// It never fails: when the reply cannot be decoded, or carries no
// description, the untouched reply becomes the description and findings are
// empty.
func ParseImageAnalysis(raw string) ImageAnalysis {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(StripFences(raw)), &doc); err != nil {
		logger.Warn("Failed to parse structured image analysis, returning raw text",
			zap.Error(err),
			zap.Int("response_length", len(raw)))
		return rawImageAnalysis(raw)
	}

	description, ok := scalarText(doc["description"])
	if !ok {
		logger.Warn("Image analysis has no description, returning raw text")
		return rawImageAnalysis(raw)
	}

	return ImageAnalysis{
		Description: description,
		Findings:    stringList(doc["findings"]),
	}
}

func rawImageAnalysis(raw string) ImageAnalysis {
	return ImageAnalysis{
		Description: raw,
		Findings:    []string{},
	}
}
