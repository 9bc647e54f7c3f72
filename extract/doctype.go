package extract

import (
	"encoding/json"
	"os"
	"strings"
)

// classifyDocType derives a document's doc_type from its filename using a
// case-insensitive substring rule: "manual", "spec"/"specification", and
// "review" each name a doc_type; anything else falls back to "other".
func classifyDocType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "manual"):
		return "manual"
	case strings.Contains(lower, "specification"), strings.Contains(lower, "spec"):
		return "specifications"
	case strings.Contains(lower, "review"):
		return "review"
	default:
		return "other"
	}
}

// loadSourceMap reads the optional sources manifest. A missing path yields
// an empty map rather than an error: source attribution is best-effort.
func loadSourceMap(path string) (SourceMap, error) {
	if path == "" {
		return SourceMap{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SourceMap{}, nil
		}
		return nil, err
	}
	var sm SourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, err
	}
	return sm, nil
}
