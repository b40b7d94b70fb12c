package execution

import "fmt"

// ValidationError reports a recording request that violates a rule, such as a
// skipped step without a reason or a duplicate step index.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError reports that a referenced execution does not exist within the
// caller's program.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
