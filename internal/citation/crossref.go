package citation

import (
	"fmt"
	"strings"
)

// Citation is one knowledge-base passage offered to the model.
type Citation struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Reference renders the citation the way it is shown to a clinician.
func (c Citation) Reference() string {
	title := c.Title
	if title == "" {
		title = c.ID
	}
	if c.Source == "" {
		return title
	}
	return fmt.Sprintf("%s (%s)", title, c.Source)
}

// CrossReference returns, in candidate order, the references of the citations
// that output invokes. A citation matches when output contains its prompt
// marker "[n]", its ID or its title, case-insensitively. It never fails and
// returns an empty slice when nothing matches.
func CrossReference(output string, candidates []Citation) []string {
	refs := []string{}
	if output == "" || len(candidates) == 0 {
		return refs
	}

	text := strings.ToLower(output)
	seen := make(map[string]bool, len(candidates))

	for i, c := range candidates {
		if !mentions(text, i+1, c) {
			continue
		}
		ref := c.Reference()
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	return refs
}

func mentions(text string, marker int, c Citation) bool {
	if strings.Contains(text, fmt.Sprintf("[%d]", marker)) {
		return true
	}
	for _, needle := range []string{c.ID, c.Title} {
		needle = strings.ToLower(strings.TrimSpace(needle))
		if needle != "" && strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// FormatForPrompt lists citations with the "[n]" markers CrossReference looks
// for. It returns an empty string when there is nothing to cite.
func FormatForPrompt(citations []Citation) string {
	if len(citations) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nRELEVANT CLINICAL GUIDELINES:\n")
	for i, c := range citations {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, c.Reference(), strings.TrimSpace(c.Snippet))
	}
	b.WriteString("Base your recommendations on these guidelines where they apply and cite them by their [n] marker in your reasoning.")

	return b.String()
}

// NoGuidelinesNote is appended to a prompt when retrieval found nothing.
const NoGuidelinesNote = "\n\nNOTE: No specific clinical guidelines were found for this case. " +
	"Base your recommendations on general medical knowledge and best practices."
