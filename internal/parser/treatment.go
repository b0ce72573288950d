package parser

import "encoding/json"

// TreatmentItem is one line of a treatment plan. Every field is optional and
// nil when the model left it out.
type TreatmentItem struct {
	Type         *string `json:"type"`
	DrugName     *string `json:"drugName"`
	Dosage       *string `json:"dosage"`
	Duration     *string `json:"duration"`
	Instructions *string `json:"instructions"`
}

// TreatmentPlan is the typed form of a treatment reply.
type TreatmentPlan struct {
	Treatments           []TreatmentItem `json:"treatments"`
	FollowUpInstructions string          `json:"followUpInstructions,omitempty"`
	PatientEducation     string          `json:"patientEducation,omitempty"`
}

// ParseTreatment converts a treatment model reply into a typed plan. A reply
// without a "treatments" array, or with an element that is not an object, is
// rejected with ErrMalformedResponse.
func ParseTreatment(raw string) (*TreatmentPlan, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(StripFences(raw)), &doc); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	items, ok := asArray(doc["treatments"])
	if !ok {
		return nil, malformed("'treatments' array not found")
	}

	plan := &TreatmentPlan{Treatments: make([]TreatmentItem, 0, len(items))}
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, malformed("treatment %d is not an object", i)
		}
		plan.Treatments = append(plan.Treatments, TreatmentItem{
			Type:         optionalText(fields["type"]),
			DrugName:     optionalText(fields["drugName"]),
			Dosage:       optionalText(fields["dosage"]),
			Duration:     optionalText(fields["duration"]),
			Instructions: optionalText(fields["instructions"]),
		})
	}

	if s, ok := scalarText(doc["followUpInstructions"]); ok {
		plan.FollowUpInstructions = s
	}
	if s, ok := scalarText(doc["patientEducation"]); ok {
		plan.PatientEducation = s
	}

	return plan, nil
}
