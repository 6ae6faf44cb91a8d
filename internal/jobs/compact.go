package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/chunker"
	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/logger"
	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/store"
	"github.com/rcliao/fact-memory/internal/summarizer"
)

const (
	// DefaultThreshold is the archive size that triggers compaction.
	DefaultThreshold = 50
	// DefaultBatch is how many of the oldest archive facts are summarized.
	DefaultBatch = 20
)

// ErrSummaryFormat is returned when the summarizer does not answer with a
// non-empty JSON array of strings.
var ErrSummaryFormat = errors.New("jobs: summary is not a non-empty JSON array of strings")

// Compactor folds a user's oldest archive facts into a few summary facts.
type Compactor struct {
	log        *factlog.Log
	index      store.Index
	summarizer summarizer.Summarizer
	threshold  int
	batch      int
	now        func() time.Time
	logger     *zap.Logger
	guard      guard
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// CompactThreshold sets the archive size that triggers compaction.
func CompactThreshold(n int) CompactorOption {
	return func(c *Compactor) { c.threshold = n }
}

// CompactBatch sets how many archive facts one compaction consumes.
func CompactBatch(n int) CompactorOption {
	return func(c *Compactor) { c.batch = n }
}

// CompactorClock overrides the clock.
func CompactorClock(now func() time.Time) CompactorOption {
	return func(c *Compactor) { c.now = now }
}

// CompactorLogger sets the logger.
func CompactorLogger(l *zap.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor returns a Compactor. index may be nil.
func NewCompactor(log *factlog.Log, index store.Index, sum summarizer.Summarizer, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		log:        log,
		index:      index,
		summarizer: sum,
		threshold:  DefaultThreshold,
		batch:      DefaultBatch,
		now:        time.Now,
		guard:      newGuard(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.OrNop(c.logger).Named("compact")
	return c
}

// Run compacts every user whose archive reached the threshold. Per-user
// failures are logged and counted. Run returns ErrBusy if a run is in
// progress.
func (c *Compactor) Run(ctx context.Context) (Report, error) {
	if !c.guard.acquire() {
		return Report{}, ErrBusy
	}
	defer c.guard.release()

	users, err := c.log.Users()
	if err != nil {
		return Report{}, err
	}
	var rep Report
	for _, u := range users {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Users++
		n, err := c.CompactUser(ctx, u)
		if err != nil {
			rep.Failed++
			c.logger.Error("compaction failed", zap.String("user_id", u), zap.Error(err))
			continue
		}
		if n > 0 {
			rep.Changed++
			rep.Facts += n
		}
	}
	c.logger.Info("compaction finished", zap.Int("users", rep.Users),
		zap.Int("compacted", rep.Changed), zap.Int("failed", rep.Failed))
	return rep, nil
}

// CompactUser summarizes the user's oldest archive batch when the archive has
// reached the threshold, and returns how many old facts were replaced. New
// facts are appended before the old ones are removed, so an interrupted run
// leaves extra facts rather than missing ones.
func (c *Compactor) CompactUser(ctx context.Context, userID string) (int, error) {
	if c.summarizer == nil {
		return 0, errors.New("jobs: no summarizer configured")
	}
	archive, err := c.log.ReadAll(userID, model.FactArchive)
	if err != nil {
		return 0, err
	}
	if len(archive) < c.threshold {
		return 0, nil
	}
	batch := archive
	if len(batch) > c.batch {
		batch = batch[:c.batch]
	}

	resp, err := c.summarizer.Summarize(ctx, buildPrompt(batch))
	if err != nil {
		return 0, fmt.Errorf("summarize: %w", err)
	}
	summaries, err := ParseSummary(resp)
	if err != nil {
		return 0, err
	}

	added := make([]model.Fact, 0, len(summaries))
	for _, text := range summaries {
		f := model.Fact{
			ID:         model.NewFactID(model.FactArchive),
			Type:       model.FactArchive,
			Importance: model.ImportanceNormal,
			Text:       text,
		}
		if err := c.log.Append(userID, f); err != nil {
			return 0, err
		}
		added = append(added, f)
	}
	// A summary that repeats a batch fact would collide with that fact's
	// chunk hash, so it is indexed once the batch chunks are gone.
	batchText := make(map[string]bool, len(batch))
	for _, f := range batch {
		batchText[chunker.Normalize(f.Text)] = true
	}
	var repeats []model.Fact
	for _, f := range added {
		if batchText[chunker.Normalize(f.Text)] {
			repeats = append(repeats, f)
			continue
		}
		c.ingest(ctx, userID, f)
	}

	old := make(map[string]bool, len(batch))
	for _, f := range batch {
		if c.index != nil {
			if _, err := c.index.DeleteChunksByFactID(ctx, userID, f.ID); err != nil {
				return 0, fmt.Errorf("delete chunks of %s: %w", f.ID, err)
			}
		}
		old[f.ID] = true
	}
	for _, f := range repeats {
		c.ingest(ctx, userID, f)
	}
	removed, err := c.log.RemoveIDs(userID, model.FactArchive, old)
	if err != nil {
		return 0, err
	}

	meta, err := c.log.RefreshMetaCounts(userID)
	if err != nil {
		return 0, err
	}
	meta.LastCompactAt = c.now().UnixMilli()
	if err := c.log.WriteMeta(userID, meta); err != nil {
		return 0, err
	}

	c.logger.Info("archive compacted", zap.String("user_id", userID),
		zap.Int("removed", len(removed)), zap.Int("added", len(added)))
	return len(removed), nil
}

func (c *Compactor) ingest(ctx context.Context, userID string, f model.Fact) {
	if c.index == nil {
		return
	}
	err := c.index.IngestFact(ctx, store.IngestParams{
		UserID:    userID,
		FactID:    f.ID,
		Text:      f.Text,
		Source:    model.SourceAutoCompact,
		CreatedAt: c.now().UnixMilli(),
		Meta:      model.MetaOf(f),
	})
	if err != nil {
		c.logger.Warn("summary fact not indexed", zap.String("fact_id", f.ID), zap.Error(err))
	}
}

func buildPrompt(batch []model.Fact) string {
	var b strings.Builder
	b.WriteString("Condense the following remembered facts about one user into 3 to 5 short, ")
	b.WriteString("self-contained facts. Keep names, dates and numbers. Drop trivia.\n")
	b.WriteString("Answer with a JSON array of strings and nothing else.\n\nFacts:\n")
	for _, f := range batch {
		b.WriteString("- ")
		b.WriteString(f.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseSummary extracts the summary strings from a summarizer response,
// optionally wrapped in a code fence. Blank entries are dropped.
func ParseSummary(resp string) ([]string, error) {
	s := strings.TrimSpace(resp)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	var raw []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummaryFormat, err)
	}
	out := raw[:0]
	for _, r := range raw {
		if r = factlog.Clean(r); r != "" {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrSummaryFormat
	}
	return out, nil
}
