// Package model defines the core fact memory data types.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar date format used for fact expiry.
const DateLayout = "2006-01-02"

// FactType is the tier a fact lives in.
type FactType string

const (
	FactProfile FactType = "profile"
	FactWorking FactType = "working"
	FactArchive FactType = "archive"
)

// FactTypes lists the tiers in lookup order.
var FactTypes = []FactType{FactProfile, FactWorking, FactArchive}

// Valid reports whether t is one of the known tiers.
func (t FactType) Valid() bool {
	switch t {
	case FactProfile, FactWorking, FactArchive:
		return true
	}
	return false
}

// IDPrefix returns the two-letter id prefix for facts of this tier.
func (t FactType) IDPrefix() string {
	switch t {
	case FactProfile:
		return "pf"
	case FactWorking:
		return "wk"
	default:
		return "ar"
	}
}

// NewFactID returns a fresh id for a fact of type t, e.g. "pf_1a2b3c4d".
func NewFactID(t FactType) string {
	return t.IDPrefix() + "_" + uuid.New().String()[:8]
}

// Importance ranks how much a fact matters.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceNormal Importance = "normal"
	ImportanceLow    Importance = "low"
)

// Valid reports whether i is a known importance level.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceHigh, ImportanceNormal, ImportanceLow:
		return true
	}
	return false
}

// Rank orders importance levels: low < normal < high.
func (i Importance) Rank() int {
	switch i {
	case ImportanceLow:
		return 0
	case ImportanceNormal:
		return 1
	default:
		return 2
	}
}

// Fact is one remembered statement.
type Fact struct {
	ID         string     `json:"id" yaml:"id"`
	Type       FactType   `json:"type" yaml:"type"`
	Importance Importance `json:"importance" yaml:"importance"`
	ExpiresAt  string     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"` // YYYY-MM-DD, empty means no expiry
	Text       string     `json:"text" yaml:"text"`
}

// ExpiredOn reports whether the fact expired before the given day.
func (f Fact) ExpiredOn(today string) bool {
	return f.ExpiresAt != "" && f.ExpiresAt < today
}

// Today formats t as a calendar date in UTC.
func Today(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// UserMeta holds per-user counters. It can always be rebuilt from the log.
type UserMeta struct {
	Version       int    `json:"version" yaml:"version"`
	UserID        string `json:"userId,omitempty" yaml:"user_id,omitempty"`
	LastCompactAt int64  `json:"lastCompactAt,omitempty" yaml:"last_compact_at,omitempty"`
	ProfileCount  int    `json:"profileCount" yaml:"profile_count"`
	WorkingCount  int    `json:"workingCount" yaml:"working_count"`
	ArchiveCount  int    `json:"archiveCount" yaml:"archive_count"`
}

// MetaVersion is the current layered format version.
const MetaVersion = 2

// Total returns the number of facts across all tiers.
func (m UserMeta) Total() int {
	return m.ProfileCount + m.WorkingCount + m.ArchiveCount
}

// Count returns the counter for one tier.
func (m UserMeta) Count(t FactType) int {
	switch t {
	case FactProfile:
		return m.ProfileCount
	case FactWorking:
		return m.WorkingCount
	default:
		return m.ArchiveCount
	}
}
