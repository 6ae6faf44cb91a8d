// Package store provides the vector chunk index and its SQLite implementation.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/fact-memory/internal/model"
)

// ErrNoEmbedder is returned by Search when no embedder is configured.
var ErrNoEmbedder = errors.New("store: no embedder configured")

// IngestParams holds parameters for indexing a fact.
type IngestParams struct {
	UserID    string
	FactID    string
	Text      string
	Source    string
	CreatedAt int64 // unix ms, 0 means now
	Meta      model.ChunkMeta
}

// SearchParams holds parameters for a semantic search.
type SearchParams struct {
	UserID     string
	Query      string
	TopK       int
	SinceMs    int64
	ApplyDecay bool
}

// Index defines the chunk index used by the memory facade and jobs.
type Index interface {
	// IngestFact chunks, embeds and stores text under factID. Embedding
	// failures are logged and swallowed; only storage errors are returned.
	IngestFact(ctx context.Context, p IngestParams) error

	// DeleteChunksByFactID removes every chunk of a fact and returns the count.
	DeleteChunksByFactID(ctx context.Context, userID, factID string) (int64, error)

	// Search ranks the user's chunks against the query.
	Search(ctx context.Context, p SearchParams) ([]model.SearchResult, error)

	// Close closes the index.
	Close() error
}
