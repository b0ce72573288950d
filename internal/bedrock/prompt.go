package bedrock

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultEquipment = "Standard primary care equipment"
	defaultFormulary = "WHO Essential Medicines List"
)

// ClinicalContext is the patient presentation fed to the diagnostic prompt.
// Empty fields are rendered with neutral defaults.
type ClinicalContext struct {
	PatientSummary     string
	ChiefComplaint     string
	Vitals             string
	LabResults         string
	ImagingFindings    string
	AvailableEquipment []string
	LocalFormulary     []string
}

// TreatmentParams describes the patient a treatment plan is dosed for.
type TreatmentParams struct {
	Condition            string
	WeightKg             *float64
	AgeYears             *int
	RenalFunctionNormal  *bool
	AvailableMedications []string
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func joinOrDefault(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

func section(b *strings.Builder, title, body string) {
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}

// BuildDiagnosticPrompt asks for a ranked differential as a JSON document.
func BuildDiagnosticPrompt(ctx ClinicalContext) string {
	equipment := joinOrDefault(ctx.AvailableEquipment, defaultEquipment)
	formulary := joinOrDefault(ctx.LocalFormulary, defaultFormulary)

	var b strings.Builder
	b.WriteString("You are a clinical decision support system assisting healthcare providers in resource-constrained settings.\n\n")
	b.WriteString("Analyze the presentation below, give a differential diagnosis with evidence-based reasoning, and tell the provider what to do next.\n\n")

	section(&b, "PATIENT INFORMATION", orDefault(ctx.PatientSummary, "Not provided"))
	section(&b, "CHIEF COMPLAINT", orDefault(ctx.ChiefComplaint, "Not provided"))
	section(&b, "VITAL SIGNS", orDefault(ctx.Vitals, "Not recorded"))
	section(&b, "LABORATORY RESULTS", orDefault(ctx.LabResults, "None provided"))
	section(&b, "IMAGING FINDINGS (AI-INTERPRETED)", orDefault(ctx.ImagingFindings, "No previous imaging analysis for this consultation"))
	section(&b, "AVAILABLE EQUIPMENT", equipment)
	section(&b, "LOCAL MEDICATION FORMULARY", formulary)

	fmt.Fprintf(&b, `INSTRUCTIONS:
1. Rank the differential diagnoses for this presentation
2. Adapt every recommendation to the available equipment: %s
3. Suggest only medications from the local formulary: %s
4. Put life-threatening conditions and red flags first
5. Consider conditions common in resource-limited settings
6. Give clear clinical reasoning for each differential
7. Suggest 3-5 high-yield questions the provider should ask the patient
8. Suggest 2-4 physical examinations the provider can perform with the available equipment
9. Rate the overall urgency as LOW, MODERATE, HIGH or CRITICAL

Return a valid JSON object with exactly this structure:
{
  "differentials": [
    {
      "condition": "condition name",
      "confidence": 0.85,
      "reasoning": "clinical reasoning",
      "recommendedTests": ["test1", "test2"],
      "redFlags": ["red flag 1"]
    }
  ],
  "immediateActions": ["action1", "action2"],
  "safetyNotes": "critical safety considerations",
  "nextQuestions": ["Ask: ..."],
  "physicalExams": ["Perform: ..."],
  "urgencyLevel": "HIGH"
}

Confidence scores must be between 0.0 and 1.0. Return ONLY the JSON object, no additional text.
`, equipment, formulary)

	return b.String()
}

// BuildTreatmentPrompt asks for a dosed treatment plan as a JSON document.
func BuildTreatmentPrompt(p TreatmentParams) string {
	weight := "Not specified"
	if p.WeightKg != nil {
		weight = strconv.FormatFloat(*p.WeightKg, 'f', -1, 64)
	}

	age := "Not specified"
	if p.AgeYears != nil {
		age = strconv.Itoa(*p.AgeYears)
	}

	renal := "Impaired or unknown"
	if p.RenalFunctionNormal != nil && *p.RenalFunctionNormal {
		renal = "Normal"
	}

	var b strings.Builder
	b.WriteString("You are a clinical pharmacist planning treatment for resource-constrained healthcare settings.\n\n")
	b.WriteString("Produce an evidence-based treatment plan for the confirmed diagnosis below.\n\n")

	section(&b, "CONFIRMED DIAGNOSIS", p.Condition)
	section(&b, "PATIENT PARAMETERS", fmt.Sprintf("- Weight: %s kg\n- Age: %s years\n- Renal Function: %s", weight, age, renal))
	section(&b, "AVAILABLE MEDICATIONS", joinOrDefault(p.AvailableMedications, defaultFormulary))

	b.WriteString(`INSTRUCTIONS:
1. Give first-line and second-line options
2. Use ONLY medications from the available list above
3. Specify dose, frequency and duration
4. Adjust doses for weight, age and renal function where relevant
5. Include non-pharmacological interventions where appropriate
6. Give administration instructions, monitoring parameters and a follow-up schedule
7. Add patient education points

Return a valid JSON object with exactly this structure:
{
  "treatments": [
    {
      "type": "First-line",
      "drugName": "medication name",
      "dosage": "500mg twice daily",
      "duration": "7 days",
      "instructions": "administration instructions"
    }
  ],
  "followUpInstructions": "when to follow up and what to monitor",
  "patientEducation": "key points for the patient"
}

Return ONLY the JSON object, no additional text.
`)

	return b.String()
}

// BuildImagePrompt asks for a description and a list of findings for one image.
func BuildImagePrompt(clinicalContext string) string {
	var b strings.Builder
	b.WriteString("You are an expert radiologist and clinical diagnostician. Analyze this medical image and give a clinical assessment.\n\n")

	if strings.TrimSpace(clinicalContext) != "" {
		section(&b, "CLINICAL CONTEXT", clinicalContext)
	}

	b.WriteString(`INSTRUCTIONS:
1. Describe the image in clinical terms
2. Identify abnormalities, lesions or pathological findings
3. Note the quality and technical adequacy of the image
4. Give differential diagnoses based on the imaging findings
5. Suggest further imaging or tests if needed

Return a JSON object with this structure:
{
  "description": "description of the image and findings",
  "findings": ["finding1", "finding2"]
}

Return ONLY the JSON object, no additional text.
`)

	return b.String()
}
