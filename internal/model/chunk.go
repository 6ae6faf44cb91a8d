package model

// Chunk sources.
const (
	SourceManual      = "manual"
	SourceMigration   = "migration"
	SourceAutoCompact = "auto_compact"
)

// ChunkMeta is the classification snapshot stored with each chunk.
type ChunkMeta struct {
	Type       FactType   `json:"type,omitempty"`
	Importance Importance `json:"importance,omitempty"`
	ExpiresAt  string     `json:"expiresAt,omitempty"`
	FactID     string     `json:"fact_id,omitempty"`
}

// MetaOf snapshots a fact for chunk ingestion.
func MetaOf(f Fact) ChunkMeta {
	return ChunkMeta{Type: f.Type, Importance: f.Importance, ExpiresAt: f.ExpiresAt, FactID: f.ID}
}

// Chunk is one indexed piece of a fact's text.
type Chunk struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FactID       string    `json:"fact_id,omitempty"`
	Source       string    `json:"source"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
	EmbeddingDim int       `json:"embedding_dim"`
	Hash         string    `json:"hash"`
	CreatedAt    int64     `json:"created_at"`
	Meta         ChunkMeta `json:"meta"`
}

// SearchResult is one scored chunk hit.
type SearchResult struct {
	ChunkID    string     `json:"id"`
	FactID     string     `json:"fact_id"`
	Score      float64    `json:"score"`
	Preview    string     `json:"preview"`
	CreatedAt  int64      `json:"created_at"`
	Source     string     `json:"source"`
	Type       FactType   `json:"type,omitempty"`
	Importance Importance `json:"importance,omitempty"`
}
