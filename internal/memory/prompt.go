package memory

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rcliao/fact-memory/internal/model"
)

// Prompt block budgets, in runes.
const (
	profileBudget   = 800
	profileMaxLines = 20
	workingBudget   = 500
	relevantBudget  = 2000
	relevantTopK    = 5
)

// PromptBlocks is the memory injected into a model prompt for one turn.
type PromptBlocks struct {
	Profile  string `json:"profile,omitempty"`
	Working  string `json:"working,omitempty"`
	Relevant string `json:"relevant,omitempty"`
}

// String joins the non-empty blocks with blank lines.
func (p PromptBlocks) String() string {
	var parts []string
	for _, b := range []string{p.Profile, p.Working, p.Relevant} {
		if b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}

// PromptBlocks assembles the profile, working and relevant memory blocks for
// message. When search is unavailable only the relevant block is left out.
func (s *Service) PromptBlocks(ctx context.Context, userID, message string) (PromptBlocks, error) {
	if _, err := s.Migrate(ctx, userID); err != nil {
		return PromptBlocks{}, err
	}

	var out PromptBlocks

	profile, err := s.log.ReadAll(userID, model.FactProfile)
	if err != nil {
		return out, err
	}
	var lines []string
	for _, f := range profile {
		if f.Importance == model.ImportanceHigh {
			lines = append(lines, "- "+f.Text)
		}
	}
	if len(lines) > profileMaxLines {
		lines = lines[:profileMaxLines]
	}
	out.Profile = block("[PROFILE MEMORY]", lines, profileBudget)

	working, err := s.log.ReadWorking(userID)
	if err != nil {
		return out, err
	}
	lines = lines[:0]
	for _, f := range working {
		lines = append(lines, "- "+f.Text)
	}
	out.Working = block("[WORKING MEMORY]", lines, workingBudget)

	if strings.TrimSpace(message) == "" || s.index == nil {
		return out, nil
	}
	hits, err := s.Search(ctx, userID, message, SearchOptions{TopK: relevantTopK, Decay: true})
	if err != nil {
		s.logger.Warn("relevant memory unavailable", zap.String("user_id", userID), zap.Error(err))
		return out, nil
	}
	lines = lines[:0]
	for _, h := range hits {
		if h.FactID != "" {
			lines = append(lines, "- (id="+h.FactID+") "+h.Preview)
		} else {
			lines = append(lines, "- "+h.Preview)
		}
	}
	out.Relevant = block("[RELEVANT MEMORY FOR THIS TURN]", lines, relevantBudget)
	return out, nil
}

// block packs lines under header until budget runes are used. Lines that do
// not fit end the block.
func block(header string, lines []string, budget int) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	used := 0
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if used+n > budget {
			break
		}
		b.WriteByte('\n')
		b.WriteString(line)
		used += n + 1
	}
	if used == 0 {
		return ""
	}
	return header + b.String()
}
