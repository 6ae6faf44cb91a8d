package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/logger"
	"github.com/rcliao/fact-memory/internal/model"
)

// Cleaner removes expired working facts and their chunks.
type Cleaner struct {
	log    *factlog.Log
	index  ChunkDeleter
	now    func() time.Time
	logger *zap.Logger
	guard  guard
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// CleanerClock overrides the clock that decides expiry.
func CleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = now }
}

// CleanerLogger sets the logger.
func CleanerLogger(l *zap.Logger) CleanerOption {
	return func(c *Cleaner) { c.logger = l }
}

// NewCleaner returns a Cleaner. index may be nil when no index is used.
func NewCleaner(log *factlog.Log, index ChunkDeleter, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{log: log, index: index, now: time.Now, guard: newGuard()}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.OrNop(c.logger).Named("cleanup")
	return c
}

// Run sweeps every user. A failure for one user is logged and counted and
// does not stop the sweep. Run returns ErrBusy if a sweep is in progress.
func (c *Cleaner) Run(ctx context.Context) (Report, error) {
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
		n, err := c.CleanupUser(ctx, u)
		if err != nil {
			rep.Failed++
			c.logger.Error("cleanup failed", zap.String("user_id", u), zap.Error(err))
			continue
		}
		if n > 0 {
			rep.Changed++
			rep.Facts += n
		}
	}
	c.logger.Info("cleanup finished", zap.Int("users", rep.Users),
		zap.Int("removed", rep.Facts), zap.Int("failed", rep.Failed))
	return rep, nil
}

// CleanupUser removes the user's expired working facts and returns how many
// were removed. Chunks go first, then the working resource is rewritten.
func (c *Cleaner) CleanupUser(ctx context.Context, userID string) (int, error) {
	facts, err := c.log.ReadAll(userID, model.FactWorking)
	if err != nil {
		return 0, err
	}
	today := model.Today(c.now())
	expired := map[string]bool{}
	for _, f := range facts {
		if !f.ExpiredOn(today) {
			continue
		}
		if c.index != nil {
			if _, err := c.index.DeleteChunksByFactID(ctx, userID, f.ID); err != nil {
				return 0, fmt.Errorf("delete chunks of %s: %w", f.ID, err)
			}
		}
		expired[f.ID] = true
	}
	if len(expired) == 0 {
		return 0, nil
	}

	removed, err := c.log.RemoveIDs(userID, model.FactWorking, expired)
	if err != nil {
		return 0, err
	}
	if _, err := c.log.RefreshMetaCounts(userID); err != nil {
		return 0, err
	}
	c.logger.Debug("expired working facts removed", zap.String("user_id", userID), zap.Int("count", len(removed)))
	return len(removed), nil
}
