package workitem

import (
	"fmt"
	"strings"
)

// Reference is a ticket field whose name could not be resolved
type Reference struct {
	Field string
	Name  string
}

// InvalidReferenceError means a mandatory project, priority or assignee
// name has no id in the lookup table. The ticket cannot be created until
// the source document is corrected.
type InvalidReferenceError struct {
	Refs []Reference
}

func (e *InvalidReferenceError) Error() string {
	parts := make([]string, 0, len(e.Refs))
	for _, ref := range e.Refs {
		parts = append(parts, fmt.Sprintf("%s %q", ref.Field, ref.Name))
	}
	return "invalid project, assignee or priority: " + strings.Join(parts, ", ")
}

// CreationError means the work package could not be submitted, including
// after the permission fallback when one was attempted
type CreationError struct {
	Subject  string
	Fallback bool
	Err      error
}

func (e *CreationError) Error() string {
	if e.Fallback {
		return fmt.Sprintf("failed to create ticket %q on retry: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("failed to create ticket %q: %v", e.Subject, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}
