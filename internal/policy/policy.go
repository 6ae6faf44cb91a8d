package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/fact-memory/internal/model"
)

// Policy validates and classifies fact text.
type Policy struct {
	cfg            Config
	questionStarts []string
	commands       []*regexp.Regexp
	secrets        []*regexp.Regexp
	profile        []string
	working        []string
}

// New compiles a policy from limits and keyword lists.
func New(cfg Config, kw Keywords) (*Policy, error) {
	p := &Policy{
		cfg:            cfg,
		questionStarts: lowerAll(kw.QuestionStarts),
		profile:        lowerAll(kw.Profile),
		working:        lowerAll(kw.Working),
	}
	var err error
	if p.commands, err = compileAll(kw.CommandPatterns); err != nil {
		return nil, fmt.Errorf("command patterns: %w", err)
	}
	if p.secrets, err = compileAll(kw.SecretPatterns); err != nil {
		return nil, fmt.Errorf("secret patterns: %w", err)
	}
	return p, nil
}

// MustDefault returns the default policy. It panics only if the built-in
// patterns fail to compile.
func MustDefault() *Policy {
	p, err := New(Default(), DefaultKeywords())
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns the policy limits.
func (p *Policy) Config() Config { return p.cfg }

// Validate checks whether text may be stored. It returns an empty reason when
// the text is acceptable.
func (p *Policy) Validate(text string) model.Reason {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	if n < p.cfg.MinLen || n > p.cfg.MaxLen {
		return model.ReasonLength
	}
	if strings.HasSuffix(trimmed, "?") {
		return model.ReasonQuestion
	}
	lower := strings.ToLower(trimmed)
	for _, start := range p.questionStarts {
		if strings.HasPrefix(lower, start) {
			return model.ReasonQuestion
		}
	}
	for _, re := range p.commands {
		if re.MatchString(trimmed) {
			return model.ReasonCommand
		}
	}
	for _, re := range p.secrets {
		if re.MatchString(trimmed) {
			return model.ReasonSecret
		}
	}
	return ""
}

// Meta is caller-supplied classification. Zero fields fall back to defaults.
type Meta struct {
	Type       model.FactType   `json:"type,omitempty"`
	Importance model.Importance `json:"importance,omitempty"`
	ExpiresAt  string           `json:"expiresAt,omitempty"`
}

// Classification is the outcome of Classify.
type Classification struct {
	Type       model.FactType
	Importance model.Importance
	ExpiresAt  string
}

// Classify files text into a tier. An explicit, valid meta type wins over the
// keyword heuristics; profile keywords are checked before working keywords.
func (p *Policy) Classify(text string, meta *Meta, now time.Time) Classification {
	if meta != nil && meta.Type.Valid() {
		c := Classification{Type: meta.Type, Importance: meta.Importance}
		if !c.Importance.Valid() {
			c.Importance = model.ImportanceNormal
			if c.Type == model.FactProfile {
				c.Importance = model.ImportanceHigh
			}
		}
		if c.Type == model.FactWorking {
			c.ExpiresAt = meta.ExpiresAt
			if _, err := time.Parse(model.DateLayout, c.ExpiresAt); err != nil {
				c.ExpiresAt = p.workingExpiry(now)
			}
		}
		return c
	}

	lower := strings.ToLower(text)
	if containsAny(lower, p.profile) {
		return Classification{Type: model.FactProfile, Importance: model.ImportanceHigh}
	}
	if containsAny(lower, p.working) {
		return Classification{Type: model.FactWorking, Importance: model.ImportanceNormal, ExpiresAt: p.workingExpiry(now)}
	}
	return Classification{Type: model.FactArchive, Importance: model.ImportanceLow}
}

func (p *Policy) workingExpiry(now time.Time) string {
	return model.Today(now.AddDate(0, 0, p.cfg.WorkingDefaultDays))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}
