// Package jobs holds the background maintenance jobs that sweep every user's
// memory: expiry cleanup and archive compaction.
package jobs

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a job is triggered while a previous run is still
// in progress.
var ErrBusy = errors.New("jobs: previous run still in progress")

// ChunkDeleter drops the index chunks of a fact.
type ChunkDeleter interface {
	DeleteChunksByFactID(ctx context.Context, userID, factID string) (int64, error)
}

// Report summarizes one sweep over all users.
type Report struct {
	Users   int `json:"users"`
	Changed int `json:"changed"`
	Facts   int `json:"facts"`
	Failed  int `json:"failed"`
}

// guard lets at most one run of a job proceed.
type guard struct {
	sem *semaphore.Weighted
}

func newGuard() guard {
	return guard{sem: semaphore.NewWeighted(1)}
}

func (g guard) acquire() bool { return g.sem.TryAcquire(1) }

func (g guard) release() { g.sem.Release(1) }
