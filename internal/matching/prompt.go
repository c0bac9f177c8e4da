package matching

import (
	"fmt"
	"strings"

	_ "embed"
)

// SystemInstruction is sent as the system role of every scoring request.
const SystemInstruction = "You are a career counseling expert. Analyze assessment responses and match them to suitable careers with accuracy and helpful reasoning."

const answerDelimiter = "; "

//go:embed prompt.md
var promptTemplate string

// Answer is one free-text response of an assessment.
type Answer struct {
	QuestionID string
	AnswerText string
}

// BuildPrompt renders answers and the catalog into the scoring prompt.
// Careers are numbered from 0 in snapshot order.
func BuildPrompt(answers []Answer, snap Snapshot) string {
	texts := make([]string, 0, len(answers))
	for _, a := range answers {
		texts = append(texts, a.AnswerText)
	}

	lines := make([]string, 0, snap.Len())
	for i, c := range snap.careers {
		lines = append(lines, fmt.Sprintf("%d. %s - %s", i, c.Title, c.Description))
	}

	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Assessment responses: {{ANSWERS}}\n\nAvailable careers:\n{{CAREERS}}\n\nJSON Response:"
	}

	// Single pass, so placeholder-like text inside answers is never expanded.
	return strings.NewReplacer(
		"{{ANSWERS}}", strings.Join(texts, answerDelimiter),
		"{{CAREERS}}", strings.Join(lines, "\n"),
	).Replace(template)
}
