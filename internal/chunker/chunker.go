// Package chunker splits fact text into chunks for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxSize = 1000
	DefaultMinSize = 100
)

// Options configures chunking behavior. Sizes are in runes.
type Options struct {
	MaxSize int
	MinSize int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		MaxSize: DefaultMaxSize,
		MinSize: DefaultMinSize,
	}
}

// Chunk normalizes whitespace, splits text at sentence ends and packs the
// sentences into chunks of at most MaxSize runes. Sentences longer than
// MaxSize are hard-split. When more than one chunk results, chunks shorter
// than MinSize are dropped.
func Chunk(text string, opts Options) []string {
	if opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}

	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	var chunks []string
	current := ""
	for _, s := range splitSentences(normalized) {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(s)+1 <= opts.MaxSize {
			if current == "" {
				current = s
			} else {
				current += " " + s
			}
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
		if utf8.RuneCountInString(s) > opts.MaxSize {
			chunks = append(chunks, hardSplit(s, opts.MaxSize)...)
		} else {
			current = s
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}

	if len(chunks) == 1 {
		return chunks
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if utf8.RuneCountInString(c) >= opts.MinSize {
			kept = append(kept, c)
		}
	}
	return kept
}

// Normalize trims text and collapses all whitespace runs to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences splits whitespace-normalized text after '.', '!' or '?'.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				out = append(out, text[start:i+1])
				start = i + 2
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// hardSplit breaks text into pieces of at most size runes.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
