package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/fact-memory/internal/chunker"
	"github.com/rcliao/fact-memory/internal/embedding"
	"github.com/rcliao/fact-memory/internal/logger"
	"github.com/rcliao/fact-memory/internal/model"
)

// SQLiteStore implements Index using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	embedder     embedding.Embedder
	chunkOpts    chunker.Options
	halfLifeDays float64
	now          func() time.Time
	log          *zap.Logger

	mu      sync.Mutex
	entropy *rand.Rand
	dim     int
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithEmbedder sets the embedding provider. Without one, ingestion is skipped
// and Search returns ErrNoEmbedder.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *SQLiteStore) { s.embedder = e }
}

// WithHalfLife sets the recency decay half-life in days.
func WithHalfLife(days float64) Option {
	return func(s *SQLiteStore) { s.halfLifeDays = days }
}

// WithChunkOptions overrides chunk sizing.
func WithChunkOptions(o chunker.Options) Option {
	return func(s *SQLiteStore) { s.chunkOpts = o }
}

// WithClock overrides the clock used for created_at and decay.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.log = l }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		chunkOpts:    chunker.DefaultOptions(),
		halfLifeDays: 60,
		now:          time.Now,
		entropy:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logger.OrNop(s.log).Named("index")

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS memory_chunks (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		source        TEXT NOT NULL DEFAULT 'manual',
		text          TEXT NOT NULL,
		embedding     BLOB NOT NULL,
		embedding_dim INTEGER NOT NULL,
		hash          TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		meta_json     TEXT,
		fact_id       TEXT
	)`)
	if err != nil {
		return err
	}

	// Add fact_id column if missing (upgrade from older schema)
	s.db.Exec(`ALTER TABLE memory_chunks ADD COLUMN fact_id TEXT`)

	_, err = s.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_memory_chunks_user_created ON memory_chunks(user_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_chunks_user_hash ON memory_chunks(user_id, hash);
	CREATE INDEX IF NOT EXISTS idx_memory_chunks_fact_id ON memory_chunks(user_id, fact_id);
	`)
	return err
}

// Dim returns the embedding dimension seen on the first successful call, or 0.
func (s *SQLiteStore) Dim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func (s *SQLiteStore) observeDim(d int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = d
	} else if s.dim != d {
		s.log.Warn("embedding dimension changed", zap.Int("was", s.dim), zap.Int("now", d))
	}
}

// IngestFact stores one row per chunk of p.Text. Identical content for the
// same user is ignored.
func (s *SQLiteStore) IngestFact(ctx context.Context, p IngestParams) error {
	chunks := chunker.Chunk(p.Text, s.chunkOpts)
	if len(chunks) == 0 {
		return nil
	}
	if s.embedder == nil {
		s.log.Warn("no embedder configured, fact kept in log only", zap.String("fact_id", p.FactID))
		return nil
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err == nil && len(vectors) != len(chunks) {
		err = embedding.ErrShape
	}
	if err != nil {
		s.log.Warn("embedding failed, fact kept in log only",
			zap.String("fact_id", p.FactID), zap.Int("len", len(p.Text)), zap.Error(err))
		return nil
	}
	if len(vectors[0]) > 0 {
		s.observeDim(len(vectors[0]))
	}

	source := p.Source
	if source == "" {
		source = model.SourceManual
	}
	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = s.now().UnixMilli()
	}
	meta := p.Meta
	meta.FactID = p.FactID
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal chunk meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, text := range chunks {
		vec := vectors[i]
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_chunks (id, user_id, source, text, embedding, embedding_dim, hash, created_at, meta_json, fact_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.newID(), p.UserID, source, text, embedding.EncodeBlob(vec), len(vec),
			chunker.Hash(text), createdAt, string(metaJSON), p.FactID)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteChunksByFactID removes every chunk owned by a fact.
func (s *SQLiteStore) DeleteChunksByFactID(ctx context.Context, userID, factID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_chunks WHERE user_id = ? AND fact_id = ?`, userID, factID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.RowsAffected()
}

// ChunksByFact returns the chunks owned by a fact, oldest first.
func (s *SQLiteStore) ChunksByFact(ctx context.Context, userID, factID string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, source, text, embedding, embedding_dim, hash, created_at, meta_json, fact_id
		 FROM memory_chunks WHERE user_id = ? AND fact_id = ?
		 ORDER BY created_at, id`, userID, factID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunks returns the user's chunks for ids, in the same order. The entry
// is nil when an id is unknown or belongs to another user.
func (s *SQLiteStore) GetChunks(ctx context.Context, userID string, ids []string) ([]*model.Chunk, error) {
	out := make([]*model.Chunk, len(ids))
	for i, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, source, text, embedding, embedding_dim, hash, created_at, meta_json, fact_id
			 FROM memory_chunks WHERE id = ? AND user_id = ?`, id, userID)
		c, err := scanChunk(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get chunk %s: %w", id, err)
		}
		out[i] = &c
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (model.Chunk, error) {
	var c model.Chunk
	var blob []byte
	var metaJSON, factID sql.NullString

	err := row.Scan(&c.ID, &c.UserID, &c.Source, &c.Text, &blob, &c.EmbeddingDim,
		&c.Hash, &c.CreatedAt, &metaJSON, &factID)
	if err != nil {
		return c, err
	}

	if factID.Valid {
		c.FactID = factID.String
	}
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &c.Meta)
	}
	if v, err := embedding.DecodeBlob(blob, c.EmbeddingDim); err == nil {
		c.Embedding = v
	}
	return c, nil
}

// FactIDs returns the distinct fact ids indexed for a user.
func (s *SQLiteStore) FactIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT fact_id FROM memory_chunks
		 WHERE user_id = ? AND fact_id IS NOT NULL AND fact_id != ''
		 ORDER BY fact_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
