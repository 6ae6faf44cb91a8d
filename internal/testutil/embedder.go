// Package testutil holds deterministic fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/rcliao/fact-memory/internal/embedding"
)

// ErrEmbedDown is returned by a failing WordEmbedder.
var ErrEmbedDown = errors.New("embedding service unavailable")

// WordEmbedder maps text to a normalized bag-of-words vector, so texts that
// share words score high and identical texts score 1.
type WordEmbedder struct {
	Dims int

	mu    sync.Mutex
	fail  bool
	calls int
}

// NewWordEmbedder returns a 64-dimensional word embedder.
func NewWordEmbedder() *WordEmbedder {
	return &WordEmbedder{Dims: 64}
}

// SetFailing makes every following Embed call fail.
func (e *WordEmbedder) SetFailing(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

// Calls returns how many times Embed was invoked.
func (e *WordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed implements embedding.Embedder.
func (e *WordEmbedder) Embed(_ context.Context, texts []string) ([]embedding.Vector, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return nil, ErrEmbedDown
	}
	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *WordEmbedder) vector(text string) embedding.Vector {
	v := make(embedding.Vector, e.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32())%e.Dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
