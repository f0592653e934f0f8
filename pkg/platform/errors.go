package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty means a lookup ran out of pages, or a response lacked a
	// required link.
	ErrEmpty = errors.New("empty")

	// ErrCouldNotDetermineEnvironment means no environment was given and
	// the account can see more (or fewer) than one.
	ErrCouldNotDetermineEnvironment = errors.New("could not determine environment")

	// ErrUnauthorized is returned for HTTP 401 so callers can run the
	// interactive login and retry.
	ErrUnauthorized = errors.New("unauthorized")
)

// StructuralError indicates a resource came back without a link the
// traversal depends on.
type StructuralError struct {
	Resource string
	Link     string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s has no %q link", e.Resource, e.Link)
}

func (e *StructuralError) Unwrap() error {
	return ErrEmpty
}

// NotFoundError indicates that no resource of the given kind matched.
type NotFoundError struct {
	Kind string // environment, stack, service, container
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if errors.Is(e.Err, ErrCouldNotDetermineEnvironment) {
		return e.Err.Error()
	}
	if e.Name == "" {
		return fmt.Sprintf("no such %s", e.Kind)
	}
	return fmt.Sprintf("no such %s: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// HTTPError represents a non-success response other than 401.
type HTTPError struct {
	StatusCode int
	Status     string
	Operation  string // e.g., "get index", "create api key"
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Operation, e.StatusCode, e.Status)
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, status, operation string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Status:     status,
		Operation:  operation,
	}
}
