package citation

import (
	"strings"

	"github.com/verifyr-ai/verifyr-core/store"
)

// ConfidenceWeights controls the relative importance of confidence
// factors. Confidence is informational only: the Query path neither
// computes nor attaches it, and it never gates generation or retries.
type ConfidenceWeights struct {
	SourceCoverage   float64
	CitationAccuracy float64
	SelfConsistency  float64
	AnswerLength     float64
}

// DefaultConfidenceWeights returns balanced weights.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		SourceCoverage:   0.3,
		CitationAccuracy: 0.3,
		SelfConsistency:  0.25,
		AnswerLength:     0.15,
	}
}

// ComputeConfidence scores an answer against the chunks it was
// generated from, for display/logging purposes only.
func ComputeConfidence(answer string, retrieved []store.RetrievalResult, weights ConfidenceWeights) float64 {
	sc := sourceCoverageScore(answer, retrieved)
	ca := citationAccuracyScore(answer, retrieved)
	si := selfConsistencyScore(answer)
	al := answerLengthScore(answer)

	confidence := sc*weights.SourceCoverage +
		ca*weights.CitationAccuracy +
		si*weights.SelfConsistency +
		al*weights.AnswerLength

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// sourceCoverageScore measures what fraction of the top retrieved
// chunks leave a textual trace in the answer.
func sourceCoverageScore(answer string, retrieved []store.RetrievalResult) float64 {
	if len(retrieved) == 0 {
		return 0
	}

	lower := strings.ToLower(answer)
	checkCount := len(retrieved)
	if checkCount > 5 {
		checkCount = 5
	}

	referenced := 0
	for _, c := range retrieved[:checkCount] {
		words := strings.Fields(c.Content)
		if len(words) > 5 {
			phrase := strings.Join(words[:5], " ")
			if strings.Contains(lower, strings.ToLower(phrase)) {
				referenced++
			}
		}
	}
	return float64(referenced) / float64(checkCount)
}

// citationAccuracyScore measures what fraction of parsed citation
// numbers actually land within the retrieved set.
func citationAccuracyScore(answer string, retrieved []store.RetrievalResult) float64 {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return 0.5 // neutral if no citations found
	}

	valid := 0
	for _, m := range matches {
		n := 0
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= len(retrieved) {
			valid++
		}
	}
	return float64(valid) / float64(len(matches))
}

// selfConsistencyScore penalizes hedging and contradictory language.
func selfConsistencyScore(answer string) float64 {
	lower := strings.ToLower(answer)
	score := 1.0

	contradictions := []string{
		"on the other hand",
		"however, it also",
		"contradicts",
		"inconsistent",
	}
	for _, c := range contradictions {
		if strings.Contains(lower, c) {
			score -= 0.15
		}
	}

	uncertainties := []string{
		"i'm not sure",
		"it's unclear",
		"cannot determine",
		"insufficient information",
		"not enough context",
	}
	for _, u := range uncertainties {
		if strings.Contains(lower, u) {
			score -= 0.2
		}
	}

	if score < 0 {
		return 0
	}
	return score
}

// answerLengthScore gives higher scores to substantive answers.
func answerLengthScore(answer string) float64 {
	words := len(strings.Fields(answer))
	switch {
	case words < 10:
		return 0.2
	case words < 30:
		return 0.5
	case words < 100:
		return 0.8
	case words < 500:
		return 1.0
	default:
		return 0.9
	}
}
