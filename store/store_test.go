//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, "test-embedder", 4)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePage(product string, pageNum int) Page {
	return Page{
		ProductName: product,
		DocType:     "manual",
		PageNum:     pageNum,
		SourceFile:  "manual.pdf",
		SourceURL:   "https://example.com/manual.pdf",
		SourceName:  "User Manual",
		ContentHash: contentHash("page text " + product),
	}
}

// ---------------------------------------------------------------------------
// Construction / embedder identity
// ---------------------------------------------------------------------------

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := Open(dbPath, "test-embedder", 4)
	if err != nil {
		t.Fatalf("opening store in nested dir: %v", err)
	}
	s.Close()
}

func TestOpenRejectsEmbedderMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, "embedder-a", 4)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	_, err = Open(dbPath, "embedder-b", 4)
	if err == nil {
		t.Fatal("expected error reopening with a different embedder name")
	}
}

// ---------------------------------------------------------------------------
// Page / chunk operations
// ---------------------------------------------------------------------------

func TestUpsertPageIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePage("ApexWatch", 1)
	id1, changed1, err := s.UpsertPage(ctx, p)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !changed1 {
		t.Error("first upsert should report changed=true")
	}

	id2, changed2, err := s.UpsertPage(ctx, p)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same page id on re-upsert, got %d vs %d", id1, id2)
	}
	if changed2 {
		t.Error("re-upserting an unchanged page should report changed=false")
	}
}

func TestUpsertPageDetectsContentChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePage("ApexWatch", 1)
	id1, _, err := s.UpsertPage(ctx, p)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	p.ContentHash = contentHash("completely different text")
	id2, changed, err := s.UpsertPage(ctx, p)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("page id should stay stable across content update: %d vs %d", id1, id2)
	}
	if !changed {
		t.Error("changed content_hash should report changed=true")
	}
}

func TestInsertChunksAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pageID, _, err := s.UpsertPage(ctx, samplePage("ApexWatch", 1))
	if err != nil {
		t.Fatalf("upserting page: %v", err)
	}

	chunks := []Chunk{
		{
			ChunkID: "ApexWatch_manual_p1_c0", PageID: pageID, ProductName: "ApexWatch",
			DocType: "manual", PageNum: 1, ChunkIndex: 0,
			Content: "To pair the watch, hold the side button for five seconds.",
			TokenCount: 12, SourceFile: "manual.pdf",
		},
		{
			ChunkID: "ApexWatch_manual_p1_c1", PageID: pageID, ProductName: "ApexWatch",
			DocType: "manual", PageNum: 1, ChunkIndex: 1,
			Content: "The battery lasts up to eighteen hours on a full charge.",
			TokenCount: 12, SourceFile: "manual.pdf",
		},
	}

	ids, err := s.InsertChunks(ctx, pageID, chunks)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	vecResults, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(vecResults) == 0 {
		t.Fatal("expected at least one vector search result")
	}
	if vecResults[0].ChunkIDStr != "ApexWatch_manual_p1_c0" {
		t.Errorf("expected closest match first, got %q", vecResults[0].ChunkIDStr)
	}

	ftsResults, err := s.FTSSearch(ctx, "battery charge", 5)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(ftsResults) == 0 {
		t.Fatal("expected at least one fts search result")
	}
	if ftsResults[0].ChunkIDStr != "ApexWatch_manual_p1_c1" {
		t.Errorf("expected battery chunk first, got %q", ftsResults[0].ChunkIDStr)
	}
}

func TestDeleteProductRemovesChunksAndEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pageID, _, _ := s.UpsertPage(ctx, samplePage("ApexWatch", 1))
	ids, err := s.InsertChunks(ctx, pageID, []Chunk{
		{ChunkID: "ApexWatch_manual_p1_c0", PageID: pageID, ProductName: "ApexWatch",
			DocType: "manual", PageNum: 1, Content: "pairing instructions", TokenCount: 2, SourceFile: "manual.pdf"},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	if err := s.DeleteProduct(ctx, "ApexWatch"); err != nil {
		t.Fatalf("deleting product: %v", err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("vector search after delete: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results after product deletion, got %d", len(results))
	}
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func TestCreateAndAppendConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateConversation(ctx, "anonymous", "", "en", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty conversation id")
	}

	if err := s.AppendMessage(ctx, id, Message{Role: "user", Content: "How do I pair the watch?"}); err != nil {
		t.Fatalf("appending user message: %v", err)
	}
	if err := s.AppendMessage(ctx, id, Message{Role: "assistant", Content: "Hold the side button for five seconds. [1]"}); err != nil {
		t.Fatalf("appending assistant message: %v", err)
	}

	got, err := s.GetConversation(ctx, id, "anonymous", false)
	if err != nil {
		t.Fatalf("getting conversation: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if got.Messages[0].Seq != 0 || got.Messages[1].Seq != 1 {
		t.Errorf("expected sequential seq 0,1; got %d,%d", got.Messages[0].Seq, got.Messages[1].Seq)
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Role != "assistant" {
		t.Errorf("unexpected role ordering: %+v", got.Messages)
	}
}

func TestGetConversationAccessControl(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateConversation(ctx, "user-42", "user42@example.com", "en", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}

	if _, err := s.GetConversation(ctx, id, "user-42", false); err != nil {
		t.Errorf("owner should be able to read own conversation: %v", err)
	}

	if _, err := s.GetConversation(ctx, id, "someone-else", false); err == nil {
		t.Error("expected access denied for a non-owner, non-admin requester")
	}

	if _, err := s.GetConversation(ctx, id, "someone-else", true); err != nil {
		t.Errorf("admin should be able to read any conversation: %v", err)
	}
}

func TestGetConversationAnonymousIsPublic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateConversation(ctx, "anonymous", "", "en", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}

	if _, err := s.GetConversation(ctx, id, "anybody", false); err != nil {
		t.Errorf("anonymous-owned conversations should be readable by anyone: %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "does-not-exist", "anonymous", false)
	if err == nil {
		t.Fatal("expected an error for a missing conversation")
	}
}

func TestListConversationsScopesByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _ := s.CreateConversation(ctx, "user-1", "", "en", "gpt-4o-mini")
	id2, _ := s.CreateConversation(ctx, "user-2", "", "en", "gpt-4o-mini")

	list, err := s.ListConversations(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("listing conversations: %v", err)
	}
	var gotIDs []string
	for _, c := range list {
		gotIDs = append(gotIDs, c.ID)
	}
	if !contains(strings.Join(gotIDs, ","), id1) {
		t.Errorf("expected user-1's conversation in list, got %v", gotIDs)
	}
	if contains(strings.Join(gotIDs, ","), id2) {
		t.Errorf("user-1 should not see user-2's conversation, got %v", gotIDs)
	}

	adminList, err := s.ListConversations(ctx, "anyone", true)
	if err != nil {
		t.Fatalf("listing conversations as admin: %v", err)
	}
	if len(adminList) < 2 {
		t.Errorf("admin should see all conversations, got %d", len(adminList))
	}
}
