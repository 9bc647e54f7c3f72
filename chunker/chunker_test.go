package chunker

import (
	"strings"
	"testing"

	"github.com/verifyr-ai/verifyr-core/extract"
)

func newTestChunker(t *testing.T, target, overlap int) *Chunker {
	t.Helper()
	c, err := New(Config{TargetTokens: target, OverlapTokens: overlap})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestChunkSimple(t *testing.T) {
	c := newTestChunker(t, 512, 64)
	page := extract.Page{
		ProductName: "ApexWatch",
		DocType:     "manual",
		PageNum:     3,
		SourceFile:  "manual.pdf",
		Text:        "This is the introduction to the document.",
	}

	chunks := c.Chunk(page)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for short page, got %d", len(chunks))
	}

	ch := chunks[0]
	if ch.ChunkID != "ApexWatch_manual_p3_c0" {
		t.Errorf("ChunkID = %q, want %q", ch.ChunkID, "ApexWatch_manual_p3_c0")
	}
	if ch.ProductName != "ApexWatch" || ch.DocType != "manual" || ch.PageNum != 3 {
		t.Errorf("unexpected chunk metadata: %+v", ch)
	}
	if ch.TokenCount <= 0 {
		t.Error("TokenCount should be > 0")
	}
}

func TestChunkEmptyPage(t *testing.T) {
	c := newTestChunker(t, 512, 64)
	chunks := c.Chunk(extract.Page{ProductName: "X", DocType: "other", PageNum: 1, Text: "   "})
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks for blank page, got %d", len(chunks))
	}
}

func TestChunkLongContentSplitsByParagraph(t *testing.T) {
	c := newTestChunker(t, 20, 4)

	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("This is a paragraph with several words in it to pad length out.\n\n")
	}

	page := extract.Page{ProductName: "TrailPro", DocType: "specifications", PageNum: 1, Text: sb.String()}
	chunks := c.Chunk(page)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long content, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if strings.TrimSpace(ch.Content) == "" {
			t.Errorf("chunk[%d] is empty", i)
		}
		if ch.ChunkIndex != i {
			t.Errorf("chunk[%d].ChunkIndex = %d, want %d", i, ch.ChunkIndex, i)
		}
	}
}

func TestChunkDeterministicIDs(t *testing.T) {
	c := newTestChunker(t, 512, 64)
	page := extract.Page{ProductName: "TrailPro", DocType: "review", PageNum: 2, Text: "Some review content about battery life."}

	a := c.Chunk(page)
	b := c.Chunk(page)
	if len(a) != len(b) {
		t.Fatalf("chunking the same page twice produced different chunk counts: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ChunkID != b[i].ChunkID {
			t.Errorf("chunk[%d].ChunkID not deterministic: %q vs %q", i, a[i].ChunkID, b[i].ChunkID)
		}
	}
}

func TestChunkFallsBackThroughSeparatorLevels(t *testing.T) {
	c := newTestChunker(t, 5, 1)
	// One giant "word" with no paragraph, newline, or sentence boundaries;
	// must fall back all the way to character-level splitting.
	page := extract.Page{ProductName: "X", DocType: "other", PageNum: 1, Text: strings.Repeat("a", 500)}

	chunks := c.Chunk(page)
	if len(chunks) < 2 {
		t.Fatalf("expected character-level fallback to produce multiple chunks, got %d", len(chunks))
	}
}

func TestSplitOnKeepsNonEmptyPieces(t *testing.T) {
	pieces := splitOn("a\n\nb\n\n\nc", "\n\n")
	if len(pieces) == 0 {
		t.Fatal("expected at least one piece")
	}
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			t.Errorf("unexpected empty piece in %v", pieces)
		}
	}
}
