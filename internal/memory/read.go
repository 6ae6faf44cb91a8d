package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/store"
)

const (
	// CompatLimit caps the compat read, in runes.
	CompatLimit     = 2000
	truncatedMarker = "\n... (memory truncated)"
	noMemories      = "No saved memories."
)

// ReadAll returns profile, non-expired working and archive facts in that order.
func (s *Service) ReadAll(ctx context.Context, userID string) ([]model.Fact, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return nil, err
	}
	facts, err := s.log.ReadLive(userID)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	return facts, nil
}

// ReadText renders every visible fact as a "- text" line.
func (s *Service) ReadText(ctx context.Context, userID string) (string, error) {
	facts, err := s.ReadAll(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return noMemories, nil
	}
	return bullets(facts), nil
}

// ReadCompat renders profile and non-expired working facts for callers of
// the flat single-file format. The result is capped at CompatLimit runes. It
// reports false when both tiers are empty.
func (s *Service) ReadCompat(ctx context.Context, userID string) (string, bool, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return "", false, err
	}
	profile, err := s.log.ReadAll(userID, model.FactProfile)
	if err != nil {
		return "", false, fmt.Errorf("read profile: %w", err)
	}
	working, err := s.log.ReadWorking(userID)
	if err != nil {
		return "", false, fmt.Errorf("read working: %w", err)
	}
	facts := append(profile, working...)
	if len(facts) == 0 {
		return "", false, nil
	}

	text := bullets(facts)
	if utf8.RuneCountInString(text) > CompatLimit {
		text = string([]rune(text)[:CompatLimit]) + truncatedMarker
	}
	return text, true, nil
}

// SearchOptions tunes Search.
type SearchOptions struct {
	TopK    int
	SinceMs int64
	Decay   bool
}

// Search ranks the user's chunks against query.
func (s *Service) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]model.SearchResult, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return nil, err
	}
	if s.index == nil {
		return nil, store.ErrNoEmbedder
	}
	return s.index.Search(ctx, store.SearchParams{
		UserID:     userID,
		Query:      query,
		TopK:       opts.TopK,
		SinceMs:    opts.SinceMs,
		ApplyDecay: opts.Decay,
	})
}

// Export is a user's full memory as written by the export command.
type Export struct {
	UserID string         `json:"user_id" yaml:"user_id"`
	Meta   model.UserMeta `json:"meta" yaml:"meta"`
	Facts  []model.Fact   `json:"facts" yaml:"facts"`
}

// Export returns every fact of the user, including expired working facts not
// yet swept.
func (s *Service) Export(ctx context.Context, userID string) (*Export, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return nil, err
	}
	out := &Export{UserID: userID, Facts: []model.Fact{}}
	for _, t := range model.FactTypes {
		facts, err := s.log.ReadAll(userID, t)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t, err)
		}
		out.Facts = append(out.Facts, facts...)
	}
	meta, err := s.log.ReadMeta(userID)
	if err != nil {
		return nil, err
	}
	out.Meta = meta
	return out, nil
}

func bullets(facts []model.Fact) string {
	var b strings.Builder
	for i, f := range facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(f.Text)
	}
	return b.String()
}
