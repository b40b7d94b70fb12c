package defect

import "fmt"

// ValidationError reports a request missing a field the attempted operation
// requires, or carrying an unknown enum value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError reports that a referenced defect, link, or execution does not
// exist within the caller's program.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// CycleDetectedError reports that creating a link would close a cycle in the
// duplicate_of or caused_by subgraph.
type CycleDetectedError struct {
	LinkType LinkType
	SourceID string
	TargetID string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("linking %s %s -> %s would create a cycle", e.LinkType, e.SourceID, e.TargetID)
}

// ConcurrentModificationError reports that a defect changed between the
// caller's read and their write. The caller must re-read and retry; the stale
// write is never applied.
type ConcurrentModificationError struct {
	DefectID        string
	ExpectedVersion int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("defect %s was modified concurrently (stale version %d)", e.DefectID, e.ExpectedVersion)
}
