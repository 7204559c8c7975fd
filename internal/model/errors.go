package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidInput is the sentinel matched by every InputError.
	ErrInvalidInput = eris.New("invalid input")

	// ErrSourceUnavailable marks a knowledge source or collaborator that
	// could not be reached. Callers degrade instead of failing.
	ErrSourceUnavailable = eris.New("source unavailable")

	// ErrKnowledgeUnavailable is returned by diagnosis when no knowledge source
	// produced an answer at all. It is distinct from an empty result.
	ErrKnowledgeUnavailable = eris.New("diagnosis temporarily unavailable")

	// ErrCacheUnavailable marks a shared cache failure. It is logged, never returned.
	ErrCacheUnavailable = eris.New("shared cache unavailable")

	// ErrNotFound is returned by stores for unknown identifiers.
	ErrNotFound = eris.New("not found")
)

// InputError describes malformed evidence or intervention payloads.
type InputError struct {
	Field  string
	Reason string
}

// NewInputError builds an InputError for a field.
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match any InputError.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
