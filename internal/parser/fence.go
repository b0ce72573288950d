package parser

import "strings"

const (
	fenceJSON = "```json"
	fence     = "```"
)

// StripFences removes a markdown code fence wrapped around a model reply so the
// embedded JSON document can be decoded. It never inspects the payload.
//
// The strip is repeated until nothing changes, which keeps the function
// idempotent even for degenerate inputs such as "```json```json".
func StripFences(raw string) string {
	cleaned := stripOnce(raw)
	for {
		next := stripOnce(cleaned)
		if next == cleaned {
			return cleaned
		}
		cleaned = next
	}
}

func stripOnce(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, fenceJSON) {
		s = s[len(fenceJSON):]
	} else if strings.HasPrefix(s, fence) {
		s = s[len(fence):]
	}

	s = strings.TrimSuffix(s, fence)

	return strings.TrimSpace(s)
}
