// Package prompt composes the context block and system/user prompts
// given to the generation dispatcher, implementing the citation
// directive and language requirements.
package prompt

import (
	"fmt"
	"strings"

	"github.com/verifyr-ai/verifyr-core/store"
)

// Temperature and MaxOutputTokens are the spec-fixed generation
// defaults; Config can still override them per deployment.
const (
	Temperature     = 0.3
	MaxOutputTokens = 800
)

// Prompts holds the composed system and user prompt for one request.
type Prompts struct {
	System string
	User   string
}

// BuildContextBlock renders one numbered entry per retrieved chunk, in
// selection order, starting at 1.
func BuildContextBlock(retrieved []store.RetrievalResult) string {
	var sb strings.Builder
	for i, c := range retrieved {
		fmt.Fprintf(&sb, "[%d] %s, %s, page %d\n%s\n\n", i+1, c.ProductName, c.DocType, c.PageNum, c.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Compose builds the system and user prompts for question, given the
// retrieved chunks, the query analysis, and the requested answer
// language ("en" or "de").
func Compose(question string, retrieved []store.RetrievalResult, targetProducts []string, language string) Prompts {
	context := BuildContextBlock(retrieved)
	return Prompts{
		System: systemPrompt(targetProducts, language),
		User:   userPrompt(context, question, language),
	}
}

func systemPrompt(targetProducts []string, language string) string {
	var sb strings.Builder

	sb.WriteString("Every factual sentence in your answer must be followed by a citation in the form [n], where n refers to the numbered context entry it is drawn from. Do not state a fact without a citation.\n\n")

	sb.WriteString("You are a neutral product-comparison advisor for wearable devices. You have no affiliation with any manufacturer, and your audience is a prospective buyer comparing products on their technical merits.\n\n")

	switch language {
	case "de":
		sb.WriteString("Antworte ausschließlich auf Deutsch.\n")
	default:
		sb.WriteString("Answer in English.\n")
	}

	if len(targetProducts) >= 2 {
		fmt.Fprintf(&sb, "This question concerns multiple products (%s). Cover all of them when the context provides information about each.\n",
			strings.Join(targetProducts, ", "))
	}

	sb.WriteString("\nLength guidance: keep factual lookups to 1-3 sentences, comparisons to 4-6 sentences, and procedural answers step-by-step.")

	return sb.String()
}

func userPrompt(context, question, language string) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	switch language {
	case "de":
		sb.WriteString("Denke daran, jede Tatsachenaussage mit [n] zu belegen, z. B. \"Der Akku hält 18 Stunden [1].\"")
	default:
		sb.WriteString("Remember to cite every factual claim with [n], e.g. \"The battery lasts 18 hours [1].\"")
	}

	return sb.String()
}
