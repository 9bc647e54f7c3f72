package verifyr

import "errors"

// Sentinel errors returned by the engine and the offline ingestion
// pipeline. Handlers map these to HTTP status codes with errors.Is;
// provider payloads and stack traces never reach a caller.
var (
	// ErrValidation covers malformed input: empty/over-long question,
	// unknown model id, malformed conversation id.
	ErrValidation = errors.New("verifyr: validation failed")

	// ErrAccessDenied is returned when a requester is neither the
	// conversation's owner nor an admin, and the conversation is not
	// anonymous.
	ErrAccessDenied = errors.New("verifyr: access denied")

	// ErrConversationNotFound is returned when a conversation id does not
	// exist in the store.
	ErrConversationNotFound = errors.New("verifyr: conversation not found")

	// ErrIndexUnavailable is returned when the vector index or the
	// lexical index cannot be opened: missing artifact, held by another
	// writer, or an embedder identity mismatch against index_meta.
	ErrIndexUnavailable = errors.New("verifyr: index unavailable")

	// ErrUnsupportedFormat names an unsupported document format. The
	// current ingestion path does not return it: non-PDF files under a
	// product directory are skipped.
	ErrUnsupportedFormat = errors.New("verifyr: unsupported document format")

	// ErrExtraction is returned by IngestAll when the docs root cannot be
	// walked. A single PDF that cannot be opened or decoded is logged and
	// skipped rather than failing ingestion.
	ErrExtraction = errors.New("verifyr: extraction failed")

	// ErrEmbeddingFailed is returned when embedding generation fails
	// during ingestion.
	ErrEmbeddingFailed = errors.New("verifyr: embedding generation failed")

	// ErrRetrievalFailed is returned when both the lexical and vector
	// retrieval arms fail.
	ErrRetrievalFailed = errors.New("verifyr: retrieval failed")

	// ErrRetrievalTimeout is returned when retrieval exceeds its soft
	// deadline.
	ErrRetrievalTimeout = errors.New("verifyr: retrieval timeout")

	// ErrGenerationTimeout is returned when the provider call exceeds
	// its deadline.
	ErrGenerationTimeout = errors.New("verifyr: generation timeout")

	// ErrGenerationFatal is returned for non-retryable provider failures
	// (auth, quota) and for exhausted 5xx/429 retries.
	ErrGenerationFatal = errors.New("verifyr: generation failed")

	// ErrStoreFailed is returned for document-store and conversation-
	// store I/O errors.
	ErrStoreFailed = errors.New("verifyr: store failed")

	// ErrConflict is returned when a concurrent append to the same
	// conversation loses the race.
	ErrConflict = errors.New("verifyr: conflicting append")

	// ErrOverloaded is returned when the request worker pool is
	// saturated.
	ErrOverloaded = errors.New("verifyr: overloaded")

	// ErrUnknownModel is returned when a requested model id has no
	// configured provider or pricing entry.
	ErrUnknownModel = errors.New("verifyr: unknown model")
)
