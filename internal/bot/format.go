package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mawule-gabriel/synthesis/internal/clinical"
	"github.com/mawule-gabriel/synthesis/internal/parser"
	"github.com/mawule-gabriel/synthesis/pkg/model"
)

// maxMessageLength is the Telegram limit for a single text message.
const maxMessageLength = 4096

const helpText = `Bot started!

Send an audio file (WAV, MP3, MP4/M4A) to get a transcript.
Send a photo or an image file (JPEG, PNG) for an image review. A caption adds clinical context.

/diagnose [age=45] [gender=female] <chief complaint> opens a consultation and returns a differential diagnosis.
/treat [weight=70] [age=45] [renal=normal] <condition> returns a treatment plan.
/lab [value=9.2] [unit=g/dL] [ref=12-16] [abnormal=yes] <test> adds a lab result to the active consultation.
/history lists the diagnoses and lab results stored for the active consultation.
/close closes the active consultation.
/stop pauses the bot for this chat.`

func formatReport(r *clinical.DiagnosticReport) string {
	var b strings.Builder

	if r.UrgencyLevel != "" {
		fmt.Fprintf(&b, "Urgency: %s\n\n", r.UrgencyLevel)
	}

	if len(r.Differentials) == 0 {
		b.WriteString("No differential diagnoses were suggested.\n")
	} else {
		b.WriteString("Differential diagnosis:\n")
		for i, d := range r.Differentials {
			pct := d.Confidence.Shift(2).Round(0)
			fmt.Fprintf(&b, "%d. %s (%s%%)\n", i+1, d.Condition, pct)
			if d.Reasoning != "" {
				fmt.Fprintf(&b, "   %s\n", d.Reasoning)
			}
			if len(d.RecommendedTests) > 0 {
				fmt.Fprintf(&b, "   Tests: %s\n", strings.Join(d.RecommendedTests, ", "))
			}
			if len(d.RedFlags) > 0 {
				fmt.Fprintf(&b, "   Red flags: %s\n", strings.Join(d.RedFlags, ", "))
			}
		}
	}

	writeList(&b, "Immediate actions", r.ImmediateActions)
	writeList(&b, "Ask", r.NextQuestions)
	writeList(&b, "Examine", r.PhysicalExams)

	fmt.Fprintf(&b, "\nSafety: %s\n", r.SafetyNotes)

	writeList(&b, "Guidelines cited", r.Citations)

	return truncate(b.String())
}

func formatHistory(diagnoses []model.Diagnosis, labs []model.LabResult) string {
	var b strings.Builder

	if len(diagnoses) == 0 {
		b.WriteString("No diagnoses above the confidence threshold were stored for this consultation.\n")
	} else {
		b.WriteString("Stored diagnoses:\n")
		for i, d := range diagnoses {
			fmt.Fprintf(&b, "%d. %s (%s%%) at %s\n", i+1, d.ConditionName, d.Confidence.Shift(2).Round(0), d.CreatedAt.Format("2006-01-02 15:04"))
		}
	}

	if len(labs) > 0 {
		lines := make([]string, len(labs))
		for i, r := range labs {
			lines[i] = clinical.FormatLabResult(r)
		}
		writeList(&b, "Lab results", lines)
	}

	return truncate(b.String())
}

func formatPlan(p *parser.TreatmentPlan) string {
	var b strings.Builder

	if len(p.Treatments) == 0 {
		b.WriteString("No treatments were suggested.\n")
	} else {
		b.WriteString("Treatment plan:\n")
		for i, t := range p.Treatments {
			fmt.Fprintf(&b, "%d. %s", i+1, orDash(t.DrugName))
			if t.Type != nil {
				fmt.Fprintf(&b, " [%s]", *t.Type)
			}
			b.WriteString("\n")
			if t.Dosage != nil {
				fmt.Fprintf(&b, "   Dose: %s\n", *t.Dosage)
			}
			if t.Duration != nil {
				fmt.Fprintf(&b, "   Duration: %s\n", *t.Duration)
			}
			if t.Instructions != nil {
				fmt.Fprintf(&b, "   %s\n", *t.Instructions)
			}
		}
	}

	if p.FollowUpInstructions != "" {
		fmt.Fprintf(&b, "\nFollow-up: %s\n", p.FollowUpInstructions)
	}
	if p.PatientEducation != "" {
		fmt.Fprintf(&b, "\nPatient education: %s\n", p.PatientEducation)
	}

	return truncate(b.String())
}

func formatImageReport(r *clinical.ImageReport) string {
	var b strings.Builder
	b.WriteString(r.Description)
	b.WriteString("\n")
	writeList(&b, "Findings", r.Findings)
	if r.ID != "" {
		b.WriteString("\nSaved to the active consultation.")
	}
	return truncate(b.String())
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageLength {
		return s
	}
	cut := maxMessageLength - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
