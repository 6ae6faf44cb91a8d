// Package memory is the per-user fact memory facade. It keeps the layered
// fact log and the chunk index in step: the log decides whether a fact exists,
// the index only makes it findable by meaning.
//
// Calls for the same user are not serialized here. Two concurrent writers for
// one user can race on the log's read-modify-rewrite paths, so callers that
// may overlap must queue requests per user.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/logger"
	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/policy"
	"github.com/rcliao/fact-memory/internal/store"
)

var idShape = regexp.MustCompile(`^[a-z]{2}_[A-Za-z0-9-]+$`)

// LooksLikeID reports whether s has the shape of a fact id.
func LooksLikeID(s string) bool {
	return idShape.MatchString(s)
}

// Service implements save, forget, update and read over a fact log and an
// optional chunk index.
type Service struct {
	log    *factlog.Log
	index  store.Index
	policy *policy.Policy
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithIndex sets the chunk index. Without one, semantic dedup and search are
// unavailable and facts are kept in the log only.
func WithIndex(idx store.Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithPolicy overrides the default policy.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides the clock used for classification and ingestion time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service over log.
func New(log *factlog.Log, opts ...Option) *Service {
	s := &Service{log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.policy == nil {
		s.policy = policy.MustDefault()
	}
	s.logger = logger.OrNop(s.logger).Named("memory")
	return s
}

// Log returns the underlying fact log.
func (s *Service) Log() *factlog.Log { return s.log }

// Policy returns the active policy.
func (s *Service) Policy() *policy.Policy { return s.policy }

// SaveResult is the outcome of SaveFact. Reason is empty on success.
type SaveResult struct {
	FactID string         `json:"fact_id,omitempty"`
	Type   model.FactType `json:"type,omitempty"`
	Reason model.Reason   `json:"reason,omitempty"`
}

// OK reports whether the fact was stored.
func (r SaveResult) OK() bool { return r.Reason == "" }

// ChangeResult is the outcome of ForgetFact and UpdateFact.
type ChangeResult struct {
	FactID string       `json:"fact_id,omitempty"`
	Reason model.Reason `json:"reason,omitempty"`
}

// OK reports whether the change was applied.
func (r ChangeResult) OK() bool { return r.Reason == "" }

// SaveFact validates, classifies and dedups text, makes room if needed, then
// appends the fact and indexes it. Rejections are returned in the result;
// only storage failures are errors.
func (s *Service) SaveFact(ctx context.Context, userID, text string, meta *policy.Meta) (SaveResult, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return SaveResult{}, err
	}

	text = factlog.Clean(text)
	if reason := s.policy.Validate(text); reason != "" {
		s.reject(userID, text, reason)
		return SaveResult{Reason: reason}, nil
	}

	cls := s.policy.Classify(text, meta, s.now())
	f := model.Fact{
		ID:         model.NewFactID(cls.Type),
		Type:       cls.Type,
		Importance: cls.Importance,
		ExpiresAt:  cls.ExpiresAt,
		Text:       text,
	}

	dup, err := s.textualDuplicate(userID, text)
	if err != nil {
		return SaveResult{}, err
	}
	if dup {
		s.reject(userID, text, model.ReasonDuplicate)
		return SaveResult{Reason: model.ReasonDuplicate}, nil
	}
	if s.semanticDuplicate(ctx, userID, text) {
		s.reject(userID, text, model.ReasonSemanticDuplicate)
		return SaveResult{Reason: model.ReasonSemanticDuplicate}, nil
	}

	ok, err := s.makeRoom(ctx, userID, f.Type)
	if err != nil {
		return SaveResult{}, err
	}
	if !ok {
		s.reject(userID, text, model.ReasonLimit)
		return SaveResult{Reason: model.ReasonLimit}, nil
	}

	if err := s.log.Append(userID, f); err != nil {
		return SaveResult{}, fmt.Errorf("save fact: %w", err)
	}
	if _, err := s.log.RefreshMetaCounts(userID); err != nil {
		return SaveResult{}, fmt.Errorf("refresh meta: %w", err)
	}
	s.ingest(ctx, userID, f, model.SourceManual)

	s.logger.Info("fact saved",
		zap.String("user_id", userID), zap.String("fact_id", f.ID),
		zap.String("type", string(f.Type)), zap.String("importance", string(f.Importance)))
	return SaveResult{FactID: f.ID, Type: f.Type}, nil
}

// ForgetFact removes the fact named by an id, or by the best semantic match
// for a free-text query. Chunks are dropped before the log line.
func (s *Service) ForgetFact(ctx context.Context, userID, idOrQuery string) (ChangeResult, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return ChangeResult{}, err
	}

	f, ok, err := s.resolve(ctx, userID, idOrQuery)
	if err != nil {
		return ChangeResult{}, err
	}
	if !ok {
		return ChangeResult{Reason: model.ReasonNotFound}, nil
	}

	if err := s.unlink(ctx, userID, f.ID); err != nil {
		return ChangeResult{}, err
	}
	if _, _, err := s.log.DeleteByID(userID, f.ID); err != nil {
		return ChangeResult{}, fmt.Errorf("forget fact: %w", err)
	}
	if _, err := s.log.RefreshMetaCounts(userID); err != nil {
		return ChangeResult{}, fmt.Errorf("refresh meta: %w", err)
	}

	s.logger.Info("fact forgotten", zap.String("user_id", userID), zap.String("fact_id", f.ID))
	return ChangeResult{FactID: f.ID}, nil
}

// UpdateFact replaces the text of a fact, keeping its id, type, importance
// and expiry, and re-indexes it.
func (s *Service) UpdateFact(ctx context.Context, userID, idOrQuery, newText string) (ChangeResult, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return ChangeResult{}, err
	}

	newText = factlog.Clean(newText)
	if reason := s.policy.Validate(newText); reason != "" {
		s.reject(userID, newText, reason)
		return ChangeResult{Reason: reason}, nil
	}

	f, ok, err := s.resolve(ctx, userID, idOrQuery)
	if err != nil {
		return ChangeResult{}, err
	}
	if !ok {
		return ChangeResult{Reason: model.ReasonNotFound}, nil
	}

	if err := s.unlink(ctx, userID, f.ID); err != nil {
		return ChangeResult{}, err
	}
	updated, found, err := s.log.UpdateByID(userID, f.ID, newText)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("update fact: %w", err)
	}
	if !found {
		return ChangeResult{Reason: model.ReasonNotFound}, nil
	}
	s.ingest(ctx, userID, updated, model.SourceManual)

	s.logger.Info("fact updated", zap.String("user_id", userID), zap.String("fact_id", f.ID))
	return ChangeResult{FactID: f.ID}, nil
}

// resolve maps an id or a query to a fact in the log. A query hit whose fact
// is gone from the log has its orphan chunks removed and resolves to nothing.
func (s *Service) resolve(ctx context.Context, userID, idOrQuery string) (model.Fact, bool, error) {
	idOrQuery = strings.TrimSpace(idOrQuery)
	if idOrQuery == "" {
		return model.Fact{}, false, nil
	}
	if LooksLikeID(idOrQuery) {
		f, ok, err := s.log.FindByID(userID, idOrQuery)
		if err != nil {
			return model.Fact{}, false, fmt.Errorf("find fact: %w", err)
		}
		return f, ok, nil
	}

	if s.index == nil {
		return model.Fact{}, false, nil
	}
	hits, err := s.index.Search(ctx, store.SearchParams{UserID: userID, Query: idOrQuery, TopK: 1})
	if err != nil {
		s.logger.Warn("query resolution unavailable", zap.String("user_id", userID), zap.Error(err))
		return model.Fact{}, false, nil
	}
	if len(hits) == 0 || hits[0].FactID == "" {
		return model.Fact{}, false, nil
	}

	factID := hits[0].FactID
	f, ok, err := s.log.FindByID(userID, factID)
	if err != nil {
		return model.Fact{}, false, fmt.Errorf("find fact: %w", err)
	}
	if !ok {
		n, err := s.index.DeleteChunksByFactID(ctx, userID, factID)
		if err != nil {
			return model.Fact{}, false, fmt.Errorf("delete orphan chunks: %w", err)
		}
		s.logger.Warn("removed orphan chunks", zap.String("user_id", userID),
			zap.String("fact_id", factID), zap.Int64("chunks", n))
		return model.Fact{}, false, nil
	}
	return f, true, nil
}

// textualDuplicate reports whether text contains, or is contained in, any
// visible fact, ignoring case.
func (s *Service) textualDuplicate(userID, text string) (bool, error) {
	facts, err := s.log.ReadLive(userID)
	if err != nil {
		return false, fmt.Errorf("read facts: %w", err)
	}
	lower := strings.ToLower(text)
	for _, f := range facts {
		existing := strings.ToLower(f.Text)
		if existing == "" {
			continue
		}
		if strings.Contains(existing, lower) || strings.Contains(lower, existing) {
			return true, nil
		}
	}
	return false, nil
}

// semanticDuplicate reports whether a close enough chunk already exists. A
// failing search never blocks the save.
func (s *Service) semanticDuplicate(ctx context.Context, userID, text string) bool {
	if s.index == nil {
		return false
	}
	hits, err := s.index.Search(ctx, store.SearchParams{UserID: userID, Query: text, TopK: 3})
	if err != nil {
		s.logger.Warn("semantic dedup skipped", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	threshold := s.policy.Config().SemanticDedupThreshold
	for _, h := range hits {
		if h.Score >= threshold {
			return true
		}
	}
	return false
}

// makeRoom applies the per-tier limits and evicts archive facts when the user
// total would exceed the cap. It reports false when the fact cannot fit.
func (s *Service) makeRoom(ctx context.Context, userID string, t model.FactType) (bool, error) {
	cfg := s.policy.Config()
	meta, err := s.log.ReadMeta(userID)
	if err != nil {
		return false, err
	}
	switch t {
	case model.FactProfile:
		if meta.ProfileCount >= cfg.MaxProfileFacts {
			return false, nil
		}
	case model.FactWorking:
		if meta.WorkingCount >= cfg.MaxWorkingFacts {
			return false, nil
		}
	}

	excess := meta.Total() + 1 - cfg.MaxFactsPerUser
	if excess <= 0 {
		return true, nil
	}
	evicted, err := s.log.EvictOldestArchive(userID, excess)
	if err != nil {
		return false, fmt.Errorf("evict archive: %w", err)
	}
	for _, f := range evicted {
		if err := s.unlink(ctx, userID, f.ID); err != nil {
			return false, err
		}
	}
	meta, err = s.log.RefreshMetaCounts(userID)
	if err != nil {
		return false, fmt.Errorf("refresh meta: %w", err)
	}
	s.logger.Info("evicted archive facts", zap.String("user_id", userID), zap.Int("count", len(evicted)))
	return meta.Total()+1 <= cfg.MaxFactsPerUser, nil
}

// ingest indexes a fact. Failures leave the fact in the log only.
func (s *Service) ingest(ctx context.Context, userID string, f model.Fact, source string) {
	if s.index == nil {
		return
	}
	err := s.index.IngestFact(ctx, store.IngestParams{
		UserID:    userID,
		FactID:    f.ID,
		Text:      f.Text,
		Source:    source,
		CreatedAt: s.now().UnixMilli(),
		Meta:      model.MetaOf(f),
	})
	if err != nil {
		s.logger.Warn("fact not indexed", zap.String("user_id", userID),
			zap.String("fact_id", f.ID), zap.Error(err))
	}
}

// unlink drops every chunk of a fact.
func (s *Service) unlink(ctx context.Context, userID, factID string) error {
	if s.index == nil {
		return nil
	}
	if _, err := s.index.DeleteChunksByFactID(ctx, userID, factID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", factID, err)
	}
	return nil
}

func (s *Service) reject(userID, text string, reason model.Reason) {
	s.logger.Info("fact rejected", zap.String("user_id", userID),
		zap.String("reason", string(reason)), zap.String("text", logger.Preview(text)))
}
