package prompt

import (
	"strings"
	"testing"

	"github.com/verifyr-ai/verifyr-core/store"
)

func sampleRetrieved() []store.RetrievalResult {
	return []store.RetrievalResult{
		{ChunkID: 1, ProductName: "ApexWatch", DocType: "specifications", PageNum: 9, Content: "Battery lasts 18 hours."},
		{ChunkID: 2, ProductName: "TrailPro", DocType: "specifications", PageNum: 4, Content: "Battery lasts 26 hours."},
	}
}

func TestBuildContextBlockNumbersFromOne(t *testing.T) {
	block := BuildContextBlock(sampleRetrieved())
	if !strings.HasPrefix(block, "[1] ApexWatch, specifications, page 9") {
		t.Errorf("expected entry 1 first, got: %s", block)
	}
	if !strings.Contains(block, "[2] TrailPro, specifications, page 4") {
		t.Errorf("expected entry 2 present, got: %s", block)
	}
}

func TestComposeIncludesCitationDirective(t *testing.T) {
	p := Compose("How long does the battery last?", sampleRetrieved(), []string{"ApexWatch"}, "en")
	if !strings.Contains(p.System, "[n]") {
		t.Error("expected system prompt to contain the citation directive")
	}
}

func TestComposeGermanLanguage(t *testing.T) {
	p := Compose("Wie lange hält der Akku?", sampleRetrieved(), []string{"ApexWatch"}, "de")
	if !strings.Contains(p.System, "Deutsch") {
		t.Error("expected German system prompt to request a German answer")
	}
}

func TestComposeMultiProductMentionsBothProducts(t *testing.T) {
	p := Compose("Compare battery life", sampleRetrieved(), []string{"ApexWatch", "TrailPro"}, "en")
	if !strings.Contains(p.System, "ApexWatch") || !strings.Contains(p.System, "TrailPro") {
		t.Error("expected system prompt to name both target products for a comparison query")
	}
}
