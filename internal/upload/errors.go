package upload

import "fmt"

// ValidationError reports missing or invalid client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports that no record exists for the given keys.
type NotFoundError struct {
	OwnerID string
	ItemID  string
}

func (e *NotFoundError) Error() string {
	return "image not found"
}

// InternalError wraps a collaborator failure. The cause is kept in the
// message so operators can diagnose it from the response.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func missingField(field string) error {
	return &ValidationError{Message: "missing required field: " + field}
}
