package types

import (
	"fmt"
)

// RemoteIOError describes a failed call against Graph or OpenProject
type RemoteIOError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	// Code is the provider's machine readable error code, when it sends one.
	Code string
	// Attribute is the field a validation error refers to, when known.
	Attribute string
	Message   string
	Err       error
}

func (e *RemoteIOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", e.Service, e.Method, e.Path, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s %s returned %d: %s", e.Service, e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s %s returned %d", e.Service, e.Method, e.Path, e.StatusCode)
}

func (e *RemoteIOError) Unwrap() error {
	return e.Err
}
