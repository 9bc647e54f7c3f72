package retrieval

import "strings"

// sanitizeFTSQuery strips FTS5 special characters and joins the
// remaining significant words with OR for broad lexical matching.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "",
		"+", "", "-", "", "^", "", ":", "",
		"?", "", "[", "", "]", "", "{", "",
		"}", "", "!", "", ".", "", ",", "",
		";", "",
	)
	cleaned := replacer.Replace(query)
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	for _, w := range words {
		if len(w) > 2 && !isStopWord(w) {
			parts = append(parts, w)
		}
	}
	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
