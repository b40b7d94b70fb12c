package notify

import "fmt"

// NotFoundError reports a notification that does not exist in the caller's
// program scope.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("notification %q not found", e.ID)
}

// StateError reports an operation applied to a notification in the wrong
// state, e.g. canceling one that is already being sent.
type StateError struct {
	ID      string
	State   NotificationState
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("notification %s is %s: %s", e.ID, e.State, e.Message)
}
