package store

import "fmt"

// NotFoundError means no active document has the given ID.
type NotFoundError struct {
	DocID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.DocID)
}

// ConflictError is an optimistic-lock mismatch: the caller's expected
// version no longer matches the stored one.
type ConflictError struct {
	DocID    string
	Expected int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on document %s (expected %d)", e.DocID, e.Expected)
}

// CycleError rejects a non-wikilink dependency that would close a cycle.
type CycleError struct {
	FromDocID string
	ToDocID   string
	LinkType  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s of type %s would create a cycle", e.FromDocID, e.ToDocID, e.LinkType)
}

// ValidationError rejects malformed input before it reaches the database.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
