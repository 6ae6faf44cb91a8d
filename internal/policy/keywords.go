package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Keywords are the locale-specific word lists and patterns used by the policy.
// Patterns are Go regular expressions.
type Keywords struct {
	QuestionStarts  []string `yaml:"question_starts"`
	CommandPatterns []string `yaml:"command_patterns"`
	SecretPatterns  []string `yaml:"secret_patterns"`
	Profile         []string `yaml:"profile"`
	Working         []string `yaml:"working"`
}

// DefaultKeywords returns the built-in Russian and English lists.
func DefaultKeywords() Keywords {
	return Keywords{
		QuestionStarts: []string{
			"найди", "сделай", "покажи", "объясни", "почему", "как", "когда", "можешь", "давай",
			"find", "show", "explain", "why", "how", "when", "can you", "could you", "what is",
		},
		CommandPatterns: []string{
			`(?i)\bnpm\s+install\b`,
			`(?i)\bcd\s+`,
			`(?i)\bnpx\s+`,
			`(?i)сделай\s+промт`,
			`(?i)сделай\s+промпт`,
		},
		SecretPatterns: []string{
			`(?i)\bsk-[a-zA-Z0-9_-]{20,}`,
			`(?i)\bBearer\s+[a-zA-Z0-9_.-]+`,
			`\b[A-Za-z0-9_-]{30,}:[A-Za-z0-9_-]+`,
		},
		Profile: []string{
			"имя", "зовут", "я ", "меня", "предпочитаю", "русский", "английский", "язык",
			"работа", "профессия", "живу", "живёт",
		},
		Working: []string{
			"сейчас", "ставим", "чиним", "задача", "план", "делаем", "работаем над", "текущ",
		},
	}
}

// LoadKeywords reads keyword lists from a YAML file. Lists missing from the
// file keep their defaults.
func LoadKeywords(path string) (Keywords, error) {
	kw := DefaultKeywords()
	b, err := os.ReadFile(path)
	if err != nil {
		return kw, fmt.Errorf("read keywords: %w", err)
	}
	var file Keywords
	if err := yaml.Unmarshal(b, &file); err != nil {
		return kw, fmt.Errorf("parse keywords: %w", err)
	}
	if file.QuestionStarts != nil {
		kw.QuestionStarts = file.QuestionStarts
	}
	if file.CommandPatterns != nil {
		kw.CommandPatterns = file.CommandPatterns
	}
	if file.SecretPatterns != nil {
		kw.SecretPatterns = file.SecretPatterns
	}
	if file.Profile != nil {
		kw.Profile = file.Profile
	}
	if file.Working != nil {
		kw.Working = file.Working
	}
	return kw, nil
}
