package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func buildRecommendationsPrompt(findings []domain.Finding) string {
	const maxFindings = 30

	var b strings.Builder
	for idx, f := range findings {
		if idx == maxFindings {
			break
		}
		fmt.Fprintf(&b, "[%d] severity=%s %s", idx+1, f.Severity, f.Description)
		if f.EvidenceNote != "" {
			fmt.Fprintf(&b, " (evidence: %s)", f.EvidenceNote)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("No findings were reported.\n")
	}

	return `You help journalists verify whether a document is authentic.
Based on the analysis findings below, list the next steps the journalist should take.
Return strict JSON object with key recommendations (array of strings). No markdown, no extra keys.

Findings:
` + b.String()
}
