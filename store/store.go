// Package store is the SQLite-backed persistence layer: an embedded
// vector index (sqlite-vec), a lexical index (FTS5 bm25()), and the
// multi-turn conversation store, all sharing one database file under an
// exclusive writer lock.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Sentinel errors the orchestrator maps onto the package-level error
// taxonomy via errors.Is.
var (
	ErrNotFound        = errors.New("store: not found")
	ErrAccessDenied    = errors.New("store: access denied")
	ErrConflict        = errors.New("store: conflicting append")
	ErrEmbedderMismatch = errors.New("store: embedder identity mismatch")
)

// Page is a row in the pages table: one physical PDF page.
type Page struct {
	ID          int64  `json:"id"`
	ProductName string `json:"product_name"`
	DocType     string `json:"doc_type"`
	PageNum     int    `json:"page_num"`
	SourceFile  string `json:"source_file"`
	SourceURL   string `json:"source_url,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	ContentHash string `json:"content_hash"`
}

// Chunk is a row in the chunks table.
type Chunk struct {
	ID          int64  `json:"id"`
	ChunkID     string `json:"chunk_id"`
	PageID      int64  `json:"page_id"`
	ProductName string `json:"product_name"`
	DocType     string `json:"doc_type"`
	PageNum     int    `json:"page_num"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	TokenCount  int    `json:"token_count"`
	SourceFile  string `json:"source_file"`
	SourceURL   string `json:"source_url,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
}

// RetrievalResult is a chunk plus its per-arm retrieval score.
type RetrievalResult struct {
	ChunkID     int64   `json:"chunk_id"`
	ChunkIDStr  string  `json:"chunk_id_str"`
	ProductName string  `json:"product_name"`
	DocType     string  `json:"doc_type"`
	PageNum     int     `json:"page_num"`
	Content     string  `json:"content"`
	SourceFile  string  `json:"source_file"`
	SourceURL   string  `json:"source_url,omitempty"`
	SourceName  string  `json:"source_name,omitempty"`
	Score       float64 `json:"score"`
}

// Conversation is a row in the conversations table, optionally carrying
// its messages in insertion order.
type Conversation struct {
	ID         string    `json:"conversation_id"`
	OwnerID    string    `json:"owner_id"`
	OwnerEmail string    `json:"owner_email,omitempty"`
	Language   string    `json:"language"`
	ModelID    string    `json:"model_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Messages   []Message `json:"messages,omitempty"`
}

// Message is a row in the messages table.
type Message struct {
	ID                int64     `json:"-"`
	ConversationID    string    `json:"-"`
	Seq               int       `json:"-"`
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	Sources           string    `json:"sources,omitempty"` // JSON-encoded []Source
	ModelID           string    `json:"model_id,omitempty"`
	PromptTokens      int       `json:"prompt_tokens,omitempty"`
	CompletionTokens  int       `json:"completion_tokens,omitempty"`
	CostUSD           float64   `json:"cost_usd,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store wraps the SQLite database for all Verifyr persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// Open opens (or creates) a SQLite database at dbPath, initializes the
// schema including the sqlite-vec and FTS5 virtual tables, and checks
// the recorded embedder identity against (embedderName, vectorDim). A
// mismatch against a non-empty index_meta row is fatal (ErrEmbedderMismatch);
// an empty index_meta is populated with the given identity.
func Open(dbPath string, embedderName string, vectorDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(vectorDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: vectorDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.checkEmbedderIdentity(context.Background(), embedderName, vectorDim); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkEmbedderIdentity(ctx context.Context, embedderName string, vectorDim int) error {
	var gotName string
	var gotDim int
	err := s.db.QueryRowContext(ctx,
		"SELECT embedder_name, vector_dim FROM index_meta WHERE id = 1").Scan(&gotName, &gotDim)
	if err == sql.ErrNoRows {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO index_meta (id, embedder_name, vector_dim) VALUES (1, ?, ?)",
			embedderName, vectorDim)
		return err
	}
	if err != nil {
		return fmt.Errorf("reading index_meta: %w", err)
	}
	if gotName != embedderName || gotDim != vectorDim {
		return fmt.Errorf("%w: index built with (%s, %d), configured (%s, %d)",
			ErrEmbedderMismatch, gotName, gotDim, embedderName, vectorDim)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int { return s.embeddingDim }

// --- Page operations ---

// UpsertPage inserts or updates a page record, keyed on
// (product_name, source_file, page_num). Returns the page ID and
// whether the content actually changed (false means the page's
// content_hash is unchanged from a prior ingestion — a no-op re-ingest).
func (s *Store) UpsertPage(ctx context.Context, p Page) (id int64, changed bool, err error) {
	var existingHash string
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content_hash FROM pages WHERE product_name = ? AND source_file = ? AND page_num = ?",
		p.ProductName, p.SourceFile, p.PageNum)
	scanErr := row.Scan(&id, &existingHash)
	if scanErr == nil && existingHash == p.ContentHash {
		return id, false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (product_name, doc_type, page_num, source_file, source_url, source_name, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_name, source_file, page_num) DO UPDATE SET
			doc_type = excluded.doc_type,
			source_url = excluded.source_url,
			source_name = excluded.source_name,
			content_hash = excluded.content_hash
	`, p.ProductName, p.DocType, p.PageNum, p.SourceFile, p.SourceURL, p.SourceName, p.ContentHash)
	if err != nil {
		return 0, false, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if id == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM pages WHERE product_name = ? AND source_file = ? AND page_num = ?",
			p.ProductName, p.SourceFile, p.PageNum)
		if err := row.Scan(&id); err != nil {
			return 0, false, err
		}
	}
	return id, true, nil
}

// DeletePageChunks removes all chunks (and their embeddings/FTS rows via
// trigger) belonging to a page, ahead of re-chunking it.
func (s *Store) DeletePageChunks(ctx context.Context, pageID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE page_id = ?)
		`, pageID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE page_id = ?", pageID)
		return err
	})
}

// DeleteProduct removes every page and chunk belonging to a product, for
// a full re-ingestion.
func (s *Store) DeleteProduct(ctx context.Context, product string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE product_name = ?)
		`, product); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE product_name = ?", product); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM pages WHERE product_name = ?", product)
		return err
	})
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks for one page and returns their
// assigned rowids in the same order as the input slice.
func (s *Store) InsertChunks(ctx context.Context, pageID int64, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (chunk_id, page_id, product_name, doc_type, page_num, chunk_index,
				content, token_count, source_file, source_url, source_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				content = excluded.content,
				token_count = excluded.token_count
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx, c.ChunkID, pageID, c.ProductName, c.DocType, c.PageNum,
				c.ChunkIndex, c.Content, c.TokenCount, c.SourceFile, c.SourceURL, c.SourceName)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if id == 0 {
				row := tx.QueryRowContext(ctx, "SELECT id FROM chunks WHERE chunk_id = ?", c.ChunkID)
				if err := row.Scan(&id); err != nil {
					return err
				}
			}
			ids[i] = id
		}
		return nil
	})
	return ids, err
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// VectorSearch performs a cosine KNN search, returning the k nearest
// chunks by similarity (1 - distance), highest score first.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance,
			c.chunk_id, c.product_name, c.doc_type, c.page_num, c.content,
			c.source_file, c.source_url, c.source_name
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var distance float64
		var sourceURL, sourceName sql.NullString
		if err := rows.Scan(&r.ChunkID, &distance,
			&r.ChunkIDStr, &r.ProductName, &r.DocType, &r.PageNum, &r.Content,
			&r.SourceFile, &sourceURL, &sourceName); err != nil {
			return nil, err
		}
		r.SourceURL, r.SourceName = sourceURL.String, sourceName.String
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a lexical search using FTS5's bm25() ranking
// function (FTS5 rank is negative; lower is better, so the sign is
// flipped to produce a positive ascending-good score).
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, bm25(chunks_fts),
			c.chunk_id, c.product_name, c.doc_type, c.page_num, c.content,
			c.source_file, c.source_url, c.source_name
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var r RetrievalResult
		var rank float64
		var sourceURL, sourceName sql.NullString
		if err := rows.Scan(&r.ChunkID, &rank,
			&r.ChunkIDStr, &r.ProductName, &r.DocType, &r.PageNum, &r.Content,
			&r.SourceFile, &sourceURL, &sourceName); err != nil {
			return nil, err
		}
		r.SourceURL, r.SourceName = sourceURL.String, sourceName.String
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Conversation operations ---

// CreateConversation generates a new UUID, persists an empty
// conversation atomically, and returns its id.
func (s *Store) CreateConversation(ctx context.Context, ownerID, ownerEmail, language, modelID string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, owner_email, language, model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, ownerID, ownerEmail, language, modelID, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ErrRoleAlternation is returned when an appended message's role repeats
// the conversation's last stored role instead of continuing the
// user/assistant alternation.
var ErrRoleAlternation = errors.New("store: message role does not continue alternation")

// AppendMessage appends a single message to a conversation and bumps
// updated_at, in one transaction so a storage failure leaves no partial
// turn. seq is assigned as the next integer after the conversation's
// current message count; a UNIQUE(conversation_id, seq) violation from a
// concurrent append surfaces as ErrConflict. The message's role must
// differ from the last stored role (ErrRoleAlternation otherwise).
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return appendMessageTx(ctx, tx, conversationID, msg)
	})
}

// AppendTurn appends a user message and its assistant reply as a single
// atomic unit: if the assistant insert fails, the user insert is rolled
// back too, so a conversation never carries a question with no answer.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, userMsg, assistantMsg Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := appendMessageTx(ctx, tx, conversationID, userMsg); err != nil {
			return err
		}
		return appendMessageTx(ctx, tx, conversationID, assistantMsg)
	})
}

func appendMessageTx(ctx context.Context, tx *sql.Tx, conversationID string, msg Message) error {
	var seq int
	var lastRole sql.NullString
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1, (SELECT role FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1) FROM messages WHERE conversation_id = ?",
		conversationID, conversationID)
	if err := row.Scan(&seq, &lastRole); err != nil {
		return err
	}
	if lastRole.Valid && lastRole.String == msg.Role {
		return fmt.Errorf("%w: conversation %s role %q repeats the last message", ErrRoleAlternation, conversationID, msg.Role)
	}

	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content, sources, model_id,
			prompt_tokens, completion_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, seq, msg.Role, msg.Content, nullableString(msg.Sources), nullableString(msg.ModelID),
		msg.PromptTokens, msg.CompletionTokens, msg.CostUSD, now)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: conversation %s seq %d", ErrConflict, conversationID, seq)
		}
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", now, conversationID)
	return err
}

// GetConversation returns the full conversation (with messages) iff
// requesterID is the owner, the conversation is owned by "anonymous", or
// isAdmin is true. Otherwise ErrAccessDenied. A missing conversation
// yields ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id, requesterID string, isAdmin bool) (*Conversation, error) {
	c, err := s.getConversationMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && c.OwnerID != "anonymous" && c.OwnerID != requesterID {
		return nil, ErrAccessDenied
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, sources, model_id, prompt_tokens, completion_tokens, cost_usd, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var sources, modelID sql.NullString
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &sources, &modelID,
			&m.PromptTokens, &m.CompletionTokens, &m.CostUSD, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sources, m.ModelID = sources.String, modelID.String
		m.ConversationID = id
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (s *Store) getConversationMeta(ctx context.Context, id string) (*Conversation, error) {
	c := &Conversation{ID: id}
	var ownerEmail sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, owner_email, language, model_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	err := row.Scan(&c.OwnerID, &ownerEmail, &c.Language, &c.ModelID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.OwnerEmail = ownerEmail.String
	return c, nil
}

// ListConversations returns conversation metadata (no message bodies)
// visible to requesterID under the same access rule GetConversation
// enforces; admins see all.
func (s *Store) ListConversations(ctx context.Context, requesterID string, isAdmin bool) ([]Conversation, error) {
	var rows *sql.Rows
	var err error
	if isAdmin {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, owner_id, owner_email, language, model_id, created_at, updated_at
			FROM conversations ORDER BY updated_at DESC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, owner_id, owner_email, language, model_id, created_at, updated_at
			FROM conversations WHERE owner_id = ? OR owner_id = 'anonymous' ORDER BY updated_at DESC
		`, requesterID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []Conversation
	for rows.Next() {
		var c Conversation
		var ownerEmail sql.NullString
		if err := rows.Scan(&c.ID, &c.OwnerID, &ownerEmail, &c.Language, &c.ModelID,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.OwnerEmail = ownerEmail.String
		convos = append(convos, c)
	}
	return convos, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint failed"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// contentHash returns the SHA-256 hex digest of text, used to detect
// unchanged pages across re-ingestion.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
