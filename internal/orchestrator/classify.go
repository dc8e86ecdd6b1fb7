package orchestrator

import (
	"strings"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

var errorMarkers = []struct {
	kind    evidence.ErrorType
	markers []string
}{
	{evidence.ErrorTypeDNS, []string{"no such host", "dns", "getaddrinfo", "enotfound", "server misbehaving"}},
	{evidence.ErrorTypeTimeout, []string{"timeout", "timed out", "deadline exceeded", "etimedout"}},
	{evidence.ErrorTypeHTTP, []string{"http status", "status code", "robots", "blocked content"}},
	{evidence.ErrorTypeParse, []string{"parse", "unmarshal", "invalid character", "syntax", "json"}},
	{evidence.ErrorTypeLLM, []string{"oracle", "llm", "anthropic", "gemini", "model"}},
}

// ClassifyError maps a failure message to an error type by substring match.
// Earlier kinds win.
func ClassifyError(msg string) evidence.ErrorType {
	lower := strings.ToLower(msg)
	if strings.TrimSpace(lower) == "" {
		return evidence.ErrorTypeNone
	}
	for _, m := range errorMarkers {
		for _, marker := range m.markers {
			if strings.Contains(lower, marker) {
				return m.kind
			}
		}
	}
	return evidence.ErrorTypeUnknown
}
