package factlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/fact-memory/internal/model"
)

var unsafeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Log is the per-user layered fact log rooted at a directory:
//
//	<root>/<user>.md               legacy single-file store
//	<root>/users/<user>/profile.md
//	<root>/users/<user>/working.md
//	<root>/users/<user>/archive.md
//	<root>/users/<user>/meta.json
//
// Concurrent writers for the same user race on the rewrite paths; callers
// serialize per user.
type Log struct {
	root string
	now  func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used to decide expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a Log rooted at dir.
func New(dir string, opts ...Option) *Log {
	l := &Log{root: dir, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Root returns the log's root directory.
func (l *Log) Root() string { return l.root }

// SafeID maps a user id to a file-system safe name.
func SafeID(userID string) string {
	return unsafeRe.ReplaceAllString(userID, "_")
}

func (l *Log) usersDir() string { return filepath.Join(l.root, "users") }

// UserDir returns the layered directory for a user.
func (l *Log) UserDir(userID string) string {
	return filepath.Join(l.usersDir(), SafeID(userID))
}

// Path returns the resource file for one tier.
func (l *Log) Path(userID string, t model.FactType) string {
	return filepath.Join(l.UserDir(userID), string(t)+".md")
}

// MetaPath returns the user's meta file.
func (l *Log) MetaPath(userID string) string {
	return filepath.Join(l.UserDir(userID), "meta.json")
}

// LegacyPath returns the pre-layered single-file store for a user.
func (l *Log) LegacyPath(userID string) string {
	return filepath.Join(l.root, SafeID(userID)+".md")
}

// Exists reports whether the tier's resource file exists.
func (l *Log) Exists(userID string, t model.FactType) bool {
	_, err := os.Stat(l.Path(userID, t))
	return err == nil
}

// Touch creates an empty tier resource if it does not exist.
func (l *Log) Touch(userID string, t model.FactType) error {
	if err := os.MkdirAll(l.UserDir(userID), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	f, err := os.OpenFile(l.Path(userID, t), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("touch %s: %w", t, err)
	}
	return f.Close()
}

// Append adds one fact line to the fact's tier resource.
func (l *Log) Append(userID string, f model.Fact) error {
	if !f.Type.Valid() {
		return fmt.Errorf("append: invalid fact type %q", f.Type)
	}
	if err := os.MkdirAll(l.UserDir(userID), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	file, err := os.OpenFile(l.Path(userID, f.Type), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Type, err)
	}
	if _, err := file.WriteString(Format(f) + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("append %s: %w", f.Type, err)
	}
	return file.Close()
}

// ReadAll returns every valid fact of one tier in file order. Working facts
// are not filtered; see ReadWorking.
func (l *Log) ReadAll(userID string, t model.FactType) ([]model.Fact, error) {
	lines, err := readLines(l.Path(userID, t))
	if err != nil {
		return nil, err
	}
	var facts []model.Fact
	for _, line := range lines {
		if f, ok := Parse(line); ok {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

// ReadWorking returns working facts that have not expired yet.
func (l *Log) ReadWorking(userID string) ([]model.Fact, error) {
	facts, err := l.ReadAll(userID, model.FactWorking)
	if err != nil {
		return nil, err
	}
	today := model.Today(l.now())
	kept := facts[:0]
	for _, f := range facts {
		if !f.ExpiredOn(today) {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// ReadLive returns profile, non-expired working, then archive facts.
func (l *Log) ReadLive(userID string) ([]model.Fact, error) {
	profile, err := l.ReadAll(userID, model.FactProfile)
	if err != nil {
		return nil, err
	}
	working, err := l.ReadWorking(userID)
	if err != nil {
		return nil, err
	}
	archive, err := l.ReadAll(userID, model.FactArchive)
	if err != nil {
		return nil, err
	}
	out := make([]model.Fact, 0, len(profile)+len(working)+len(archive))
	out = append(out, profile...)
	out = append(out, working...)
	return append(out, archive...), nil
}

// FindByID scans profile, working (including expired) and archive for id.
func (l *Log) FindByID(userID, id string) (model.Fact, bool, error) {
	for _, t := range model.FactTypes {
		facts, err := l.ReadAll(userID, t)
		if err != nil {
			return model.Fact{}, false, err
		}
		for _, f := range facts {
			if f.ID == id {
				return f, true, nil
			}
		}
	}
	return model.Fact{}, false, nil
}

// DeleteByID removes the first fact with id and returns it.
func (l *Log) DeleteByID(userID, id string) (model.Fact, bool, error) {
	return l.rewriteFirst(userID, id, func(model.Fact) (string, bool) { return "", false })
}

// UpdateByID replaces the text of the fact with id, keeping its tags.
func (l *Log) UpdateByID(userID, id, newText string) (model.Fact, bool, error) {
	return l.rewriteFirst(userID, id, func(f model.Fact) (string, bool) {
		f.Text = strings.TrimSpace(newText)
		return Format(f), true
	})
}

// rewriteFirst finds the tier holding id and rewrites it once. replace returns
// the new line for the match, or false to drop it. The returned fact reflects
// the replacement.
func (l *Log) rewriteFirst(userID, id string, replace func(model.Fact) (string, bool)) (model.Fact, bool, error) {
	for _, t := range model.FactTypes {
		path := l.Path(userID, t)
		lines, err := readLines(path)
		if err != nil {
			return model.Fact{}, false, err
		}
		var (
			out   []string
			found bool
			match model.Fact
		)
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if f, ok := Parse(line); ok && !found && f.ID == id {
				found = true
				match = f
				if repl, keep := replace(f); keep {
					out = append(out, repl)
					match, _ = Parse(repl)
				}
				continue
			}
			out = append(out, line)
		}
		if !found {
			continue
		}
		if err := writeLines(path, out); err != nil {
			return model.Fact{}, false, err
		}
		return match, true, nil
	}
	return model.Fact{}, false, nil
}

// RemoveIDs drops every fact in ids from one tier in a single rewrite and
// returns the removed facts in file order.
func (l *Log) RemoveIDs(userID string, t model.FactType, ids map[string]bool) ([]model.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	path := l.Path(userID, t)
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	var (
		out     []string
		removed []model.Fact
	)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if f, ok := Parse(line); ok && ids[f.ID] {
			removed = append(removed, f)
			continue
		}
		out = append(out, line)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := writeLines(path, out); err != nil {
		return nil, err
	}
	return removed, nil
}

// EvictOldestArchive removes up to howMany archive facts, lowest importance
// first and oldest first within a level. Profile and working facts are never
// touched. The removed facts are returned so callers can drop their chunks.
func (l *Log) EvictOldestArchive(userID string, howMany int) ([]model.Fact, error) {
	if howMany <= 0 {
		return nil, nil
	}
	facts, err := l.ReadAll(userID, model.FactArchive)
	if err != nil {
		return nil, err
	}
	sorted := append([]model.Fact(nil), facts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance.Rank() < sorted[j].Importance.Rank()
	})
	if howMany > len(sorted) {
		howMany = len(sorted)
	}
	victims := sorted[:howMany]
	ids := make(map[string]bool, len(victims))
	for _, f := range victims {
		ids[f.ID] = true
	}
	if _, err := l.RemoveIDs(userID, model.FactArchive, ids); err != nil {
		return nil, err
	}
	return victims, nil
}

// ReadMeta returns the stored counters. A missing or unreadable meta file is
// answered with a fresh recount, which is not persisted.
func (l *Log) ReadMeta(userID string) (model.UserMeta, error) {
	b, err := os.ReadFile(l.MetaPath(userID))
	if err == nil {
		m := model.UserMeta{Version: model.MetaVersion}
		if json.Unmarshal(b, &m) == nil {
			return m, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return model.UserMeta{}, fmt.Errorf("read meta: %w", err)
	}
	return l.count(userID)
}

// WriteMeta persists the user's counters.
func (l *Log) WriteMeta(userID string, m model.UserMeta) error {
	if err := os.MkdirAll(l.UserDir(userID), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	if m.UserID == "" {
		m.UserID = userID
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	return writeFile(l.MetaPath(userID), b)
}

// RefreshMetaCounts recounts all tiers and persists the result, keeping the
// last compaction time.
func (l *Log) RefreshMetaCounts(userID string) (model.UserMeta, error) {
	m, err := l.count(userID)
	if err != nil {
		return model.UserMeta{}, err
	}
	if prev, err := os.ReadFile(l.MetaPath(userID)); err == nil {
		var old model.UserMeta
		if json.Unmarshal(prev, &old) == nil {
			m.LastCompactAt = old.LastCompactAt
		}
	}
	if err := l.WriteMeta(userID, m); err != nil {
		return model.UserMeta{}, err
	}
	return m, nil
}

func (l *Log) count(userID string) (model.UserMeta, error) {
	m := model.UserMeta{Version: model.MetaVersion, UserID: userID}
	for _, t := range model.FactTypes {
		facts, err := l.ReadAll(userID, t)
		if err != nil {
			return model.UserMeta{}, err
		}
		switch t {
		case model.FactProfile:
			m.ProfileCount = len(facts)
		case model.FactWorking:
			m.WorkingCount = len(facts)
		case model.FactArchive:
			m.ArchiveCount = len(facts)
		}
	}
	return m, nil
}

// Users lists every user with a layered directory. The original user id is
// taken from meta.json when present, otherwise the directory name is used.
func (l *Log) Users() ([]string, error) {
	entries, err := os.ReadDir(l.usersDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if b, err := os.ReadFile(filepath.Join(l.usersDir(), id, "meta.json")); err == nil {
			var m model.UserMeta
			if json.Unmarshal(b, &m) == nil && m.UserID != "" && SafeID(m.UserID) == id {
				id = m.UserID
			}
		}
		users = append(users, id)
	}
	return users, nil
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return strings.Split(string(b), "\n"), nil
}

func writeLines(path string, lines []string) error {
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	return writeFile(path, []byte(content))
}

// writeFile replaces path atomically via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
