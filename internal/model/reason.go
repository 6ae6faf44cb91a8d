package model

// Reason explains why a memory operation did not apply. Empty means success.
type Reason string

const (
	ReasonLength            Reason = "length"
	ReasonQuestion          Reason = "question"
	ReasonCommand           Reason = "command"
	ReasonSecret            Reason = "secret"
	ReasonDuplicate         Reason = "duplicate"
	ReasonSemanticDuplicate Reason = "semantic_duplicate"
	ReasonLimit             Reason = "limit"
	ReasonNotFound          Reason = "not_found"
)
