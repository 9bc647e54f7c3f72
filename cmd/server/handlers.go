package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/verifyr-ai/verifyr-core"
)

type handler struct {
	engine *verifyr.Engine
}

func newHandler(e *verifyr.Engine) *handler {
	return &handler{engine: e}
}

// requesterIdentity reads the opaque identity an upstream identity
// provider is assumed to have verified already (§1 Non-goals): a
// requester id and an admin flag. Anonymous requests fall back to the
// "anonymous" owner sentinel.
func requesterIdentity(r *http.Request) (id string, isAdmin bool) {
	id = r.Header.Get("X-Requester-Id")
	if id == "" {
		id = "anonymous"
	}
	isAdmin = strings.EqualFold(r.Header.Get("X-Requester-Admin"), "true")
	return id, isAdmin
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var req struct {
		Question       string `json:"question"`
		ConversationID string `json:"conversation_id,omitempty"`
		Model          string `json:"model,omitempty"`
		Language       string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" || len(req.Question) > 2000 {
		writeError(w, http.StatusBadRequest, "question must be 1..2000 characters")
		return
	}

	requesterID, isAdmin := requesterIdentity(r)

	resp, err := h.engine.Query(ctx, verifyr.QueryRequest{
		Question:         req.Question,
		ConversationID:   req.ConversationID,
		Language:         req.Language,
		ModelID:          req.Model,
		RequesterID:      requesterID,
		RequesterIsAdmin: isAdmin,
	})
	if err != nil {
		writeEngineError(w, err)
		slog.Error("query error", "question", req.Question, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":          resp.Answer,
		"sources":         resp.Sources,
		"conversation_id": resp.ConversationID,
		"response_time_ms": resp.ResponseTimeMs,
		"model_used":      resp.ModelID,
		"tokens_used": map[string]int{
			"input":  resp.PromptTokens,
			"output": resp.CompletionTokens,
		},
		"cost_usd": resp.CostUSD,
	})
}

// GET /conversations
func (h *handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	requesterID, isAdmin := requesterIdentity(r)
	convos, err := h.engine.ListConversations(r.Context(), requesterID, isAdmin)
	if err != nil {
		writeEngineError(w, err)
		slog.Error("list conversations error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convos})
}

// GET /conversations/{id}
func (h *handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	requesterID, isAdmin := requesterIdentity(r)

	convo, err := h.engine.GetConversation(r.Context(), id, requesterID, isAdmin)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convo)
}

// GET /products
func (h *handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": h.engine.KnownProducts(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors to the status codes §6.1
// specifies, without leaking provider payloads or stack traces.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verifyr.ErrValidation), errors.Is(err, verifyr.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, verifyr.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, verifyr.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, verifyr.ErrRetrievalTimeout), errors.Is(err, verifyr.ErrGenerationTimeout):
		writeError(w, http.StatusRequestTimeout, "request deadline exceeded")
	case errors.Is(err, verifyr.ErrOverloaded):
		writeError(w, http.StatusTooManyRequests, "overloaded")
	case errors.Is(err, verifyr.ErrGenerationFatal):
		writeError(w, http.StatusBadGateway, "generation provider failed")
	case errors.Is(err, verifyr.ErrIndexUnavailable):
		writeError(w, http.StatusServiceUnavailable, "indexes unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
