// Package citation parses generated answers for numbered [n] citations
// and projects retrieved chunks into the Source records returned to
// callers.
package citation

import (
	"regexp"
	"strconv"

	"github.com/verifyr-ai/verifyr-core/store"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Source is the post-generation projection of a retrieved chunk: the
// context index it occupied, preserved as citation_number.
type Source struct {
	CitationNumber int    `json:"citation_number"`
	ProductName    string `json:"product_name"`
	DocType        string `json:"doc_type"`
	PageNum        int    `json:"page_num"`
	SourceFile     string `json:"source_file"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceName     string `json:"source_name,omitempty"`
}

// Extract parses answer for [n] citations and returns the corresponding
// Source records, built from retrieved at the cited 1-indexed positions.
// If the answer contains no citations, every retrieved chunk is returned
// as a source so responses never carry an empty source list.
func Extract(answer string, retrieved []store.RetrievalResult) []Source {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)

	seen := make(map[int]bool)
	var numbers []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(retrieved) || seen[n] {
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}

	if len(numbers) == 0 {
		numbers = make([]int, len(retrieved))
		for i := range retrieved {
			numbers[i] = i + 1
		}
	}

	sources := make([]Source, len(numbers))
	for i, n := range numbers {
		c := retrieved[n-1]
		sources[i] = Source{
			CitationNumber: n,
			ProductName:    c.ProductName,
			DocType:        c.DocType,
			PageNum:        c.PageNum,
			SourceFile:     c.SourceFile,
			SourceURL:      c.SourceURL,
			SourceName:     c.SourceName,
		}
	}
	return sources
}
