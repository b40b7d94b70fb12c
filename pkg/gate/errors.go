package gate

import "fmt"

// ValidationError reports a request that violates a gate configuration or
// evaluation rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError reports that a referenced criterion, verdict, or target does
// not exist within the caller's program.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// EvaluationError reports that a single criterion could not be scored. The
// engine records it on the criterion's result (passed=false) and keeps
// evaluating the others; one broken criterion never hides the rest.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return "evaluation failed: " + e.Message
}
