package parser

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Differential is one candidate diagnosis extracted from a model reply.
type Differential struct {
	Condition        string          `json:"condition"`
	Confidence       decimal.Decimal `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RecommendedTests []string        `json:"recommendedTests"`
	RedFlags         []string        `json:"redFlags"`
}

// DiagnosticResult is the typed form of a diagnostic reply.
type DiagnosticResult struct {
	Differentials    []Differential `json:"differentials"`
	ImmediateActions []string       `json:"immediateActions"`
	SafetyNotes      string         `json:"safetyNotes,omitempty"`
	NextQuestions    []string       `json:"nextQuestions"`
	PhysicalExams    []string       `json:"physicalExams"`
	UrgencyLevel     string         `json:"urgencyLevel,omitempty"`
}

type diagnosticDocument struct {
	Differentials    json.RawMessage `json:"differentials"`
	ImmediateActions json.RawMessage `json:"immediateActions"`
	SafetyNotes      json.RawMessage `json:"safetyNotes"`
	NextQuestions    json.RawMessage `json:"nextQuestions"`
	PhysicalExams    json.RawMessage `json:"physicalExams"`
	UrgencyLevel     json.RawMessage `json:"urgencyLevel"`
}

type differentialDocument struct {
	Condition        json.RawMessage `json:"condition"`
	Confidence       number          `json:"confidence"`
	Reasoning        json.RawMessage `json:"reasoning"`
	RecommendedTests json.RawMessage `json:"recommendedTests"`
	RedFlags         json.RawMessage `json:"redFlags"`
}

// ParseDiagnostic converts a diagnostic model reply into typed differentials.
//
// The reply must contain a "differentials" array and every element must carry
// condition, confidence and reasoning; otherwise the whole reply is rejected
// with ErrMalformedResponse. Optional lists default to empty.
func ParseDiagnostic(raw string) (*DiagnosticResult, error) {
	var doc diagnosticDocument
	if err := json.Unmarshal([]byte(StripFences(raw)), &doc); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	items, ok := asArray(doc.Differentials)
	if !ok {
		return nil, malformed("'differentials' array not found")
	}

	differentials := make([]Differential, 0, len(items))
	for i, item := range items {
		d, err := parseDifferential(i, item)
		if err != nil {
			return nil, err
		}
		differentials = append(differentials, d)
	}

	result := &DiagnosticResult{
		Differentials:    differentials,
		ImmediateActions: stringList(doc.ImmediateActions),
		NextQuestions:    stringList(doc.NextQuestions),
		PhysicalExams:    stringList(doc.PhysicalExams),
	}
	if s, ok := scalarText(doc.SafetyNotes); ok {
		result.SafetyNotes = s
	}
	if s, ok := scalarText(doc.UrgencyLevel); ok {
		result.UrgencyLevel = s
	}

	return result, nil
}

func parseDifferential(i int, item json.RawMessage) (Differential, error) {
	var doc differentialDocument
	if err := json.Unmarshal(item, &doc); err != nil {
		return Differential{}, malformed("differential %d: %v", i, err)
	}

	condition, ok := scalarText(doc.Condition)
	if !ok || condition == "" {
		return Differential{}, malformed("differential %d: missing condition", i)
	}
	if !doc.Confidence.present {
		return Differential{}, malformed("differential %d: missing confidence", i)
	}
	reasoning, ok := scalarText(doc.Reasoning)
	if !ok {
		return Differential{}, malformed("differential %d: missing reasoning", i)
	}

	return Differential{
		Condition:        condition,
		Confidence:       decimal.NewFromFloat(doc.Confidence.value),
		Reasoning:        reasoning,
		RecommendedTests: stringList(doc.RecommendedTests),
		RedFlags:         stringList(doc.RedFlags),
	}, nil
}
