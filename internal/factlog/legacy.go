package factlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rcliao/fact-memory/internal/model"
)

// NeedsMigration reports whether the user has a legacy single-file store and
// no layered profile resource yet.
func (l *Log) NeedsMigration(userID string) bool {
	if l.Exists(userID, model.FactProfile) {
		return false
	}
	_, err := os.Stat(l.LegacyPath(userID))
	return err == nil
}

// BackupLegacy copies the legacy store to a .bak sibling and returns its path.
func (l *Log) BackupLegacy(userID string) (string, error) {
	src := l.LegacyPath(userID)
	b, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read legacy store: %w", err)
	}
	dst := src + ".bak"
	if err := writeFile(dst, b); err != nil {
		return "", fmt.Errorf("backup legacy store: %w", err)
	}
	return dst, nil
}

// ReadLegacy returns every non-empty legacy line as an unclassified archive
// fact without an id.
func (l *Log) ReadLegacy(userID string) ([]model.Fact, error) {
	b, err := os.ReadFile(l.LegacyPath(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy store: %w", err)
	}
	var out []model.Fact
	for _, line := range strings.Split(string(b), "\n") {
		if StripBullet(line) != "" {
			out = append(out, ParseLegacy(line, ""))
		}
	}
	return out, nil
}
