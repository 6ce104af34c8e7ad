package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrMetaNotFound signals a missing document meta record.
	ErrMetaNotFound = errors.New("document meta not found")
	// ErrEmptyQuestion signals a missing or blank question text.
	ErrEmptyQuestion = errors.New("question cannot be empty")
	// ErrStoreUnavailable signals that the metadata store is unreachable.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
	// ErrLLMUnavailable signals an LLM provider failure.
	ErrLLMUnavailable = errors.New("llm provider unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrIndexCorrupt signals an unreadable index snapshot.
	ErrIndexCorrupt = errors.New("index snapshot corrupt")
	// ErrCleanupForbidden signals a destructive cleanup attempted outside test envs.
	ErrCleanupForbidden = errors.New("cleanup is not allowed in this environment")
)
