package errors

import (
	"errors"
	"fmt"
)

var (
	ErrReferenceUnreadable  = errors.New("reference data unreadable")
	ErrCounterUnavailable   = errors.New("counter store unavailable")
	ErrCheckpointConflict   = errors.New("checkpoint conflict")
	ErrBatchAbandoned       = errors.New("batch abandoned")
	ErrChunkMalformed       = errors.New("chunk malformed")
	ErrOutputWriteFailed    = errors.New("output write failed")
	ErrStoreSchemaUnusable  = errors.New("store schema unusable")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// AppError wraps a sentinel with a human-readable message and a fatality
// marker. Fatal errors abort the process at startup; non-fatal errors abandon
// or degrade the current batch only.
type AppError struct {
	Err     error
	Message string
	Fatal   bool
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, fatal bool, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Fatal:   fatal,
	}
}

func Newf(sentinel error, fatal bool, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Fatal:   fatal,
	}
}

// IsFatal reports whether err should abort the process rather than abandon
// the current batch.
func IsFatal(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Fatal
	}
	switch {
	case errors.Is(err, ErrReferenceUnreadable),
		errors.Is(err, ErrStoreSchemaUnusable),
		errors.Is(err, ErrInvalidConfiguration):
		return true
	default:
		return false
	}
}
