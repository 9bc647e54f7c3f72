// Package verifyr is a grounded question-answering engine over
// wearable-product documentation: an offline PDF ingestion pipeline,
// hybrid BM25+vector retrieval, citation-enforced generation, and a
// multi-turn conversation store.
package verifyr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/verifyr-ai/verifyr-core/chunker"
	"github.com/verifyr-ai/verifyr-core/citation"
	"github.com/verifyr-ai/verifyr-core/extract"
	"github.com/verifyr-ai/verifyr-core/llm"
	"github.com/verifyr-ai/verifyr-core/prompt"
	"github.com/verifyr-ai/verifyr-core/retrieval"
	"github.com/verifyr-ai/verifyr-core/store"
)

// QueryRequest is one turn of Query{question, conversation_id?,
// language, model_id, requester} per spec §4.12.
type QueryRequest struct {
	Question       string
	ConversationID  string // empty creates a new conversation
	Language        string // "en" or "de"
	ModelID         string
	RequesterID     string
	RequesterIsAdmin bool
}

// QueryResponse is the nine-step orchestrator's result.
type QueryResponse struct {
	Answer           string             `json:"answer"`
	Sources          []citation.Source  `json:"sources"`
	ConversationID   string             `json:"conversation_id"`
	ResponseTimeMs    int64              `json:"response_time_ms"`
	ModelID          string             `json:"model_id"`
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	CostUSD          float64            `json:"cost_usd"`
}

// Conversation mirrors store.Conversation for external callers.
type Conversation = store.Conversation

// Message mirrors store.Message for external callers.
type Message = store.Message

// Engine is the Verifyr orchestrator.
type Engine struct {
	cfg       Config
	store     *store.Store
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	extractor *extract.Extractor
	chunkr    *chunker.Chunker
	analyzer  *retrieval.Analyzer
	retriever *retrieval.Engine
	sem       chan struct{}
}

// New wires up an Engine from Config: opens the store (enforcing the
// embedder identity recorded in index_meta), constructs the chat and
// embedding providers, and builds the chunker/analyzer/retriever.
func New(cfg Config) (*Engine, error) {
	dbPath := cfg.resolveDBPath()

	s, err := store.Open(dbPath, cfg.EmbedderName, cfg.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider, Model: cfg.Chat.Model,
		BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	extractor, err := extract.New(cfg.SourcesFile)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading source map: %w", err)
	}

	chunkr, err := chunker.New(chunker.Config{
		TargetTokens: cfg.ChunkTargetTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	products := make(map[string][]string, len(cfg.Products))
	for name, info := range cfg.Products {
		products[name] = info.Aliases
	}
	analyzer := retrieval.NewAnalyzer(products, cfg.DefaultTopKSimple, cfg.DefaultTopKComplex)

	retriever := retrieval.New(s, embedLLM, retrieval.Config{RetrieveK: cfg.RetrieveK})

	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}

	return &Engine{
		cfg:       cfg,
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		extractor: extractor,
		chunkr:    chunkr,
		analyzer:  analyzer,
		retriever: retriever,
		sem:       make(chan struct{}, maxConcurrent),
	}, nil
}

// Close shuts down the engine's store connection.
func (e *Engine) Close() error { return e.store.Close() }

// Store returns the underlying store for diagnostic access.
func (e *Engine) Store() *store.Store { return e.store }

// KnownProducts returns the configured product catalog's names.
func (e *Engine) KnownProducts() []string {
	names := make([]string, 0, len(e.cfg.Products))
	for name := range e.cfg.Products {
		names = append(names, name)
	}
	return names
}

// Query runs spec §4.12's nine-step orchestrator contract for one turn.
// If any stage fails fatally, no messages are appended to the
// conversation (all-or-nothing per turn).
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	default:
		return nil, ErrOverloaded
	}

	start := time.Now()

	if req.Question == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ErrValidation)
	}
	if len(req.Question) > 2000 {
		return nil, fmt.Errorf("%w: question exceeds 2000 characters", ErrValidation)
	}
	if req.ConversationID != "" {
		if _, err := uuid.Parse(req.ConversationID); err != nil {
			return nil, fmt.Errorf("%w: malformed conversation id", ErrValidation)
		}
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = e.cfg.Chat.Model
	}

	if deadline := e.cfg.RequestDeadlineMS; deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(deadline)*time.Millisecond)
		defer cancel()
	}

	// Step 1-2: resolve the conversation and verify access.
	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := e.store.CreateConversation(ctx, requesterOrAnonymous(req.RequesterID), "", language, modelID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		conversationID = id
	} else {
		if _, err := e.store.GetConversation(ctx, conversationID, req.RequesterID, req.RequesterIsAdmin); err != nil {
			return nil, translateConversationErr(err)
		}
	}

	// Step 3: query analysis.
	analysis := e.analyzer.Analyze(req.Question)

	// Step 4: hybrid retrieval, within its own soft deadline.
	retrievalCtx := ctx
	if deadline := e.cfg.RetrievalDeadlineMS; deadline > 0 {
		var cancel context.CancelFunc
		retrievalCtx, cancel = context.WithTimeout(ctx, time.Duration(deadline)*time.Millisecond)
		defer cancel()
	}
	retrieved, _, err := e.retriever.Search(retrievalCtx, req.Question, analysis)
	if err != nil {
		if retrievalCtx.Err() != nil {
			return nil, ErrRetrievalTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	// Step 5: prompt composition.
	prompts := prompt.Compose(req.Question, retrieved, analysis.TargetProducts, language)

	// Step 6: generation.
	pricing, ok := e.cfg.Pricing[modelID]
	if !ok && modelID != e.cfg.Chat.Model {
		return nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrUnknownModel, modelID)
	}

	temperature := e.cfg.Temperature
	if temperature == 0 {
		temperature = prompt.Temperature
	}
	maxTokens := e.cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = prompt.MaxOutputTokens
	}
	resp, err := e.chatLLM.Chat(ctx, llm.ChatRequest{
		Model:       modelID,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []llm.Message{
			{Role: "system", Content: prompts.System},
			{Role: "user", Content: prompts.User},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrGenerationTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrGenerationFatal, err)
	}

	// Step 7: citation extraction.
	sources := citation.Extract(resp.Content, retrieved)

	// Step 8: append messages atomically; a failure here fails the whole turn.
	costUSD := llm.CostUSD(llm.ModelPricing{
		InputPerMTok: pricing.InputPerMTok, OutputPerMTok: pricing.OutputPerMTok,
	}, resp.PromptTokens, resp.CompletionTokens)
	userMsg := store.Message{Role: "user", Content: req.Question}
	assistantMsg := store.Message{
		Role:             "assistant",
		Content:          resp.Content,
		Sources:          marshalSources(sources),
		ModelID:          modelID,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          costUSD,
	}
	if err := e.store.AppendTurn(ctx, conversationID, userMsg, assistantMsg); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	// Step 9: response.
	return &QueryResponse{
		Answer:           resp.Content,
		Sources:          sources,
		ConversationID:   conversationID,
		ResponseTimeMs:   time.Since(start).Milliseconds(),
		ModelID:          modelID,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          costUSD,
	}, nil
}

// GetConversation returns a full conversation transcript, enforcing the
// store's owner/anonymous/admin access rule.
func (e *Engine) GetConversation(ctx context.Context, id, requesterID string, isAdmin bool) (*Conversation, error) {
	c, err := e.store.GetConversation(ctx, id, requesterID, isAdmin)
	if err != nil {
		return nil, translateConversationErr(err)
	}
	return c, nil
}

// ListConversations returns conversation metadata visible to requesterID.
func (e *Engine) ListConversations(ctx context.Context, requesterID string, isAdmin bool) ([]Conversation, error) {
	convos, err := e.store.ListConversations(ctx, requesterID, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return convos, nil
}

func requesterOrAnonymous(requesterID string) string {
	if requesterID == "" {
		return "anonymous"
	}
	return requesterID
}

func translateConversationErr(err error) error {
	switch {
	case err == store.ErrNotFound:
		return ErrConversationNotFound
	case err == store.ErrAccessDenied:
		return ErrAccessDenied
	default:
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
}

func marshalSources(sources []citation.Source) string {
	if len(sources) == 0 {
		return ""
	}
	data, err := json.Marshal(sources)
	if err != nil {
		slog.Warn("verifyr: marshaling sources failed", "error", err)
		return ""
	}
	return string(data)
}

// IngestSummary reports the outcome of a call to IngestAll.
type IngestSummary struct {
	PagesSeen    int
	PagesChanged int
	ChunksStored int
	Errors       []error
}

// IngestAll walks cfg.DocsRoot, extracting, chunking, and embedding
// every page under it. Pages whose content_hash is unchanged since the
// last run are left untouched (idempotent re-ingestion).
func (e *Engine) IngestAll(ctx context.Context) (IngestSummary, error) {
	var summary IngestSummary

	pages, err := e.extractor.WalkProducts(ctx, e.cfg.DocsRoot)
	if err != nil {
		return summary, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	summary.PagesSeen = len(pages)

	for _, p := range pages {
		if err := e.ingestPage(ctx, p, &summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("%s p%d: %w", p.SourceFile, p.PageNum, err))
		}
	}
	return summary, nil
}

func (e *Engine) ingestPage(ctx context.Context, p extract.Page, summary *IngestSummary) error {
	hash := contentHash(p.Text)
	pageRow := store.Page{
		ProductName: p.ProductName, DocType: p.DocType, PageNum: p.PageNum,
		SourceFile: p.SourceFile, SourceURL: p.SourceURL, SourceName: p.SourceName,
		ContentHash: hash,
	}
	pageID, changed, err := e.store.UpsertPage(ctx, pageRow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if !changed {
		return nil
	}
	summary.PagesChanged++

	if err := e.store.DeletePageChunks(ctx, pageID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	chunks := e.chunkr.Chunk(p)
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs, err := e.store.InsertChunks(ctx, pageID, chunks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	summary.ChunksStored += len(chunkIDs)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := e.embedLLM.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	for i, emb := range embeddings {
		if len(emb) == 0 {
			continue
		}
		llm.Normalize(emb)
		if err := e.store.InsertEmbedding(ctx, chunkIDs[i], emb); err != nil {
			return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
	}
	return nil
}

// DeleteProduct removes every page and chunk belonging to a product, for
// a full re-ingestion from scratch.
func (e *Engine) DeleteProduct(ctx context.Context, product string) error {
	if err := e.store.DeleteProduct(ctx, product); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
