package rag

import (
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

const (
	strictInstruction = "You answer questions using only the context below. " +
		"Do not add any information that is not in the context. " +
		"If the context does not contain the answer, say that you do not know."

	relaxedInstruction = "You answer questions using the context below. " +
		"Base the answer on the context first; when it is incomplete you may add general knowledge, " +
		"but say which parts do not come from the context."
)

// BuildPrompt assembles the grounding prompt: the instruction for the mode, the
// fragment texts in ranked order separated by blank lines, then the question.
func BuildPrompt(question string, frags []*models.RankedFragment, strict bool) string {
	var sb strings.Builder
	if strict {
		sb.WriteString(strictInstruction)
	} else {
		sb.WriteString(relaxedInstruction)
	}
	sb.WriteString("\n\nContext:\n\n")
	for i, f := range frags {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(f.Text)
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
