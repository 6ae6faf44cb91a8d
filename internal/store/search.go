package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/embedding"
	"github.com/rcliao/fact-memory/internal/model"
)

const (
	// MaxCandidates caps how many recent chunks are scored per search.
	MaxCandidates = 5000
	// DefaultTopK is used when SearchParams.TopK is not positive.
	DefaultTopK = 5

	previewRunes = 200
	msPerDay     = 24 * 60 * 60 * 1000
)

// Search embeds the query and ranks the user's most recent chunks of the same
// dimension by cosine similarity. With ApplyDecay, archive and normal
// importance chunks lose score with age; profile and high importance chunks
// never decay.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.SearchResult, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	topK := p.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vecs, err := s.embedder.Embed(ctx, []string{p.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, embedding.ErrShape
	}
	query := vecs[0]
	s.observeDim(len(query))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, embedding, embedding_dim, created_at, source, fact_id, meta_json
		 FROM memory_chunks
		 WHERE user_id = ? AND embedding_dim = ? AND created_at >= ?
		 ORDER BY created_at DESC
		 LIMIT ?`, p.UserID, len(query), p.SinceMs, MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	nowMs := s.now().UnixMilli()
	var results []model.SearchResult
	for rows.Next() {
		var (
			r        model.SearchResult
			text     string
			blob     []byte
			dim      int
			factID   sql.NullString
			metaJSON sql.NullString
		)
		if err := rows.Scan(&r.ChunkID, &text, &blob, &dim, &r.CreatedAt, &r.Source, &factID, &metaJSON); err != nil {
			return nil, err
		}
		vec, err := embedding.DecodeBlob(blob, dim)
		if err != nil {
			s.log.Debug("skip corrupt chunk", zap.String("chunk_id", r.ChunkID), zap.Error(err))
			continue
		}

		r.Score = embedding.CosineSimilarity(query, vec)
		if metaJSON.Valid {
			var meta model.ChunkMeta
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
				if p.ApplyDecay {
					r.Score *= s.decay(nowMs, r.CreatedAt)
				}
			} else {
				r.Type, r.Importance = meta.Type, meta.Importance
				if p.ApplyDecay && decays(meta) {
					r.Score *= s.decay(nowMs, r.CreatedAt)
				}
			}
		}
		if factID.Valid {
			r.FactID = factID.String
		}
		r.Preview = preview(text)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func decays(m model.ChunkMeta) bool {
	if m.Type == model.FactProfile || m.Importance == model.ImportanceHigh {
		return false
	}
	return m.Type == model.FactArchive || m.Importance == model.ImportanceNormal
}

func (s *SQLiteStore) decay(nowMs, createdAt int64) float64 {
	if s.halfLifeDays <= 0 {
		return 1
	}
	ageDays := float64(nowMs-createdAt) / msPerDay
	return math.Exp(-ageDays / s.halfLifeDays)
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "..."
}
