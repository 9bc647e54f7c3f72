package retrieval

import "strings"

var comparisonKeywords = []string{
	"compare", "versus", "vs", "difference", "better", "between",
	"vergleich", "unterschied", "besser", "zwischen",
}

var complexityKeywords = []string{
	"how", "why", "explain", "guide", "setup",
	"wie", "warum", "erklären", "anleitung",
}

// QueryAnalysis is the output of analyzing a raw question against the
// known product catalog.
type QueryAnalysis struct {
	TargetProducts   []string
	IsComparison     bool
	IsComplex        bool
	TopK             int
	DiversityEnabled bool
}

// Analyzer detects target products, comparison intent, and complexity
// from a raw question, and selects retrieval parameters accordingly.
type Analyzer struct {
	// aliases maps a lowercased alias (or product name) to its canonical
	// product name.
	aliases               map[string]string
	topKSimple, topKComplex int
}

// NewAnalyzer builds an Analyzer from a product/alias map, as configured
// in Config.Products, and the simple/complex top_k values from Config.
func NewAnalyzer(products map[string][]string, topKSimple, topKComplex int) *Analyzer {
	aliases := make(map[string]string)
	for product, names := range products {
		aliases[strings.ToLower(product)] = product
		for _, n := range names {
			aliases[strings.ToLower(n)] = product
		}
	}
	return &Analyzer{aliases: aliases, topKSimple: topKSimple, topKComplex: topKComplex}
}

// Analyze runs the five ordered rules of spec §4.6 against question.
func (a *Analyzer) Analyze(question string) QueryAnalysis {
	lower := strings.ToLower(question)

	// 1. Product detection: case-insensitive substring match against
	// every registered alias, deduplicated to canonical product names.
	seen := make(map[string]bool)
	var targets []string
	for alias, product := range a.aliases {
		if strings.Contains(lower, alias) && !seen[product] {
			seen[product] = true
			targets = append(targets, product)
		}
	}

	// 2. Comparison intent.
	isComparison := len(targets) >= 2
	if !isComparison {
		for _, kw := range comparisonKeywords {
			if strings.Contains(lower, kw) {
				isComparison = true
				break
			}
		}
	}

	// 3. Complexity.
	words := strings.Fields(question)
	isComplex := len(words) > 15
	if !isComplex {
		for _, kw := range complexityKeywords {
			if strings.Contains(lower, kw) {
				isComplex = true
				break
			}
		}
	}

	// 4. Top-K selection.
	topK := a.topKSimple
	if isComplex {
		topK = a.topKComplex
	}

	// 5. Diversity.
	diversity := isComparison || (isComplex && len(targets) >= 2)

	return QueryAnalysis{
		TargetProducts:   targets,
		IsComparison:     isComparison,
		IsComplex:        isComplex,
		TopK:             topK,
		DiversityEnabled: diversity,
	}
}
