package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks records that cannot be encoded.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelNotLoaded is returned when the model artifact could not be loaded.
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrShapeMismatch is returned when a batch does not fit a declared input shape.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// ValidationError describes one rejected field of one record.
type ValidationError struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
