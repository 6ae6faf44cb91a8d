package testutil

import (
	"context"
	"sync"
)

// ScriptedSummarizer answers every prompt with a fixed response.
type ScriptedSummarizer struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

// Summarize records the prompt and returns the scripted answer.
func (s *ScriptedSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.Response, s.Err
}

// Prompts returns every prompt seen so far.
func (s *ScriptedSummarizer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
