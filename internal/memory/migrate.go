package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/model"
)

// Migrate converts a user's legacy single-file store into the layered log.
// It runs at most once per user: it reports false when there is no legacy
// store or the layered profile resource already exists.
func (s *Service) Migrate(ctx context.Context, userID string) (bool, error) {
	if !s.log.NeedsMigration(userID) {
		return false, nil
	}

	backup, err := s.log.BackupLegacy(userID)
	if err != nil {
		return false, err
	}
	legacy, err := s.log.ReadLegacy(userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	facts := make([]model.Fact, 0, len(legacy))
	for _, old := range legacy {
		text := old.Text
		cls := s.policy.Classify(text, nil, now)
		f := model.Fact{
			ID:         model.NewFactID(cls.Type),
			Type:       cls.Type,
			Importance: cls.Importance,
			ExpiresAt:  cls.ExpiresAt,
			Text:       text,
		}
		if err := s.log.Append(userID, f); err != nil {
			return false, fmt.Errorf("migrate: %w", err)
		}
		facts = append(facts, f)
	}
	if err := s.log.Touch(userID, model.FactProfile); err != nil {
		return false, fmt.Errorf("migrate: %w", err)
	}
	meta, err := s.log.RefreshMetaCounts(userID)
	if err != nil {
		return false, fmt.Errorf("migrate: %w", err)
	}

	for _, f := range facts {
		s.ingest(ctx, userID, f, model.SourceMigration)
	}

	s.logger.Info("migrated legacy store",
		zap.String("user_id", userID), zap.String("backup", backup),
		zap.Int("profile", meta.ProfileCount), zap.Int("working", meta.WorkingCount),
		zap.Int("archive", meta.ArchiveCount))
	return true, nil
}
