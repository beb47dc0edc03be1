package domain

import "errors"

var (
	// ErrNotFound is returned when an entity cannot be found in the store
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller does not own the target record
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned on a state-precondition or duplicate-application violation
	ErrConflict = errors.New("conflict")

	// ErrGone is returned when a TTL window has passed
	ErrGone = errors.New("gone")

	// ErrUpstreamGone is returned when the source posting is confirmed removed
	ErrUpstreamGone = errors.New("upstream posting gone")

	// ErrInvalidArgument is returned for a malformed code or missing required field
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUpstreamFailure is returned when an automation, AI or source adapter call fails
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrFingerprintMismatch is returned when the form structure changed between
	// analyze and submit; the caller must re-analyze
	ErrFingerprintMismatch = errors.New("form fingerprint mismatch")
)

// OperationError pairs a taxonomy class with a human-readable message. The
// message is what callers see; the wrapped class is what code branches on.
type OperationError struct {
	Class   error
	Message string
}

func (e *OperationError) Error() string {
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Class
}

// NewOperationError builds an OperationError for a taxonomy class.
func NewOperationError(class error, message string) error {
	return &OperationError{Class: class, Message: message}
}

// Message returns the human-readable message for err: the OperationError
// message when present, otherwise err.Error().
func Message(err error) string {
	var op *OperationError
	if errors.As(err, &op) {
		return op.Message
	}
	return err.Error()
}
