package verifyr

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verifyr-ai/verifyr-core/chunker"
	"github.com/verifyr-ai/verifyr-core/extract"
	"github.com/verifyr-ai/verifyr-core/llm"
	"github.com/verifyr-ai/verifyr-core/retrieval"
	"github.com/verifyr-ai/verifyr-core/store"
)

// fakeProvider is a scripted llm.Provider used to exercise the
// orchestrator without any network calls.
type fakeProvider struct {
	chatResponse *llm.ChatResponse
	chatErr      error
	embedDim     int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResponse, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.embedDim)
		// Deterministic per-text embedding so battery-related text clusters
		// apart from unrelated text in tests.
		if strings.Contains(strings.ToLower(t), "battery") {
			v[0] = 1
		} else {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath, "test-embedder", 4)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	chunkr, err := chunker.New(chunker.Config{TargetTokens: 800, OverlapTokens: 200})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	extractor, err := extract.New("")
	if err != nil {
		t.Fatalf("extract.New: %v", err)
	}

	embedder := &fakeProvider{embedDim: 4}
	chat := &fakeProvider{chatResponse: &llm.ChatResponse{
		Content:          "The battery lasts 18 hours [1].",
		PromptTokens:     100,
		CompletionTokens: 20,
	}}

	analyzer := retrieval.NewAnalyzer(map[string][]string{
		"ApexWatch": {"apex watch"},
		"TrailPro":  {"trail pro"},
	}, 5, 8)
	retriever := retrieval.New(s, embedder, retrieval.Config{RetrieveK: 20})

	cfg := DefaultConfig()
	cfg.Chat.Model = "test-model"
	cfg.Pricing = map[string]ModelPricing{
		"test-model": {InputPerMTok: 1, OutputPerMTok: 2},
	}

	return &Engine{
		cfg:       cfg,
		store:     s,
		chatLLM:   chat,
		embedLLM:  embedder,
		extractor: extractor,
		chunkr:    chunkr,
		analyzer:  analyzer,
		retriever: retriever,
		sem:       make(chan struct{}, 4),
	}
}

func seedChunk(t *testing.T, e *Engine, product, text string, pageNum int) {
	t.Helper()
	ctx := context.Background()
	pageID, _, err := e.store.UpsertPage(ctx, store.Page{
		ProductName: product, DocType: "manual", PageNum: pageNum,
		SourceFile: product + ".pdf", ContentHash: text,
	})
	if err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}
	chunks := []store.Chunk{{
		ChunkID: product + "_c0", ProductName: product, DocType: "manual",
		PageNum: pageNum, ChunkIndex: 0, Content: text, TokenCount: len(strings.Fields(text)),
		SourceFile: product + ".pdf",
	}}
	ids, err := e.store.InsertChunks(ctx, pageID, chunks)
	if err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	emb, err := e.embedLLM.Embed(ctx, []string{text})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	llm.Normalize(emb[0])
	if err := e.store.InsertEmbedding(ctx, ids[0], emb[0]); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}
}

func TestQueryCreatesConversationAndReturnsAnswer(t *testing.T) {
	e := newTestEngine(t)
	seedChunk(t, e, "ApexWatch", "battery lasts 18 hours per charge", 9)

	resp, err := e.Query(context.Background(), QueryRequest{
		Question: "How long does the ApexWatch battery last?",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.ConversationID == "" {
		t.Error("expected a conversation id to be assigned")
	}
	if resp.Answer == "" {
		t.Error("expected a non-empty answer")
	}
	if len(resp.Sources) == 0 {
		t.Error("expected at least one source")
	}
	if resp.CostUSD <= 0 {
		t.Errorf("expected positive cost_usd, got %v", resp.CostUSD)
	}
}

func TestQueryAppendsMessagesToExistingConversation(t *testing.T) {
	e := newTestEngine(t)
	seedChunk(t, e, "ApexWatch", "battery lasts 18 hours per charge", 9)

	ctx := context.Background()
	first, err := e.Query(ctx, QueryRequest{Question: "How long does the battery last?", Language: "en"})
	if err != nil {
		t.Fatalf("first Query: %v", err)
	}

	second, err := e.Query(ctx, QueryRequest{
		Question:       "And how about charging time?",
		ConversationID: first.ConversationID,
		Language:       "en",
	})
	if err != nil {
		t.Fatalf("second Query: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Errorf("expected same conversation id, got %s vs %s", second.ConversationID, first.ConversationID)
	}

	convo, err := e.GetConversation(ctx, first.ConversationID, "anonymous", false)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(convo.Messages) != 4 {
		t.Fatalf("expected 4 messages (2 turns x user+assistant), got %d", len(convo.Messages))
	}
}

func TestQueryRejectsAccessToAnothersConversation(t *testing.T) {
	e := newTestEngine(t)
	seedChunk(t, e, "ApexWatch", "battery lasts 18 hours per charge", 9)

	ctx := context.Background()
	first, err := e.Query(ctx, QueryRequest{
		Question:    "How long does the battery last?",
		Language:    "en",
		RequesterID: "alice",
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	_, err = e.Query(ctx, QueryRequest{
		Question:       "What about charging?",
		ConversationID: first.ConversationID,
		Language:       "en",
		RequesterID:    "bob",
	})
	if err == nil {
		t.Fatal("expected access denied for a different requester")
	}
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Query(context.Background(), QueryRequest{Question: ""})
	if err == nil {
		t.Fatal("expected validation error for empty question")
	}
}

func TestQueryRejectsUnknownModel(t *testing.T) {
	e := newTestEngine(t)
	seedChunk(t, e, "ApexWatch", "battery lasts 18 hours per charge", 9)
	_, err := e.Query(context.Background(), QueryRequest{
		Question: "How long does the battery last?",
		ModelID:  "no-such-model",
	})
	if err == nil {
		t.Fatal("expected unknown model error")
	}
}

func TestIngestAllEmptyDocsRootSeesNoPages(t *testing.T) {
	e := newTestEngine(t)
	docsRoot := t.TempDir()
	// No product subdirectories: WalkProducts should return zero pages
	// without error, and IngestAll should report zero pages seen.
	e.cfg.DocsRoot = docsRoot

	summary, err := e.IngestAll(context.Background())
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if summary.PagesSeen != 0 {
		t.Errorf("expected 0 pages in an empty docs root, got %d", summary.PagesSeen)
	}
}
