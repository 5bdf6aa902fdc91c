// Package apperr defines the error taxonomy shared by the orchestrator,
// its stores, the activity gateway and the HTTP surface.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("checkpoint conflict")
	ErrNotReady   = errors.New("result not ready")
	ErrTransient  = errors.New("transient activity error")
	ErrPermanent  = errors.New("permanent activity error")
	ErrStorage    = errors.New("storage error")
	ErrBusy       = errors.New("job is being advanced elsewhere")
)

// ValidationError carries the offending field(s) of a rejected request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotReadyError is returned when a result is requested before the job
// reached a terminal state.
type NotReadyError struct {
	Status string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: current status %s", ErrNotReady, e.Status)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// ActivityError is what the gateway reports after its retry policy ran.
type ActivityError struct {
	Phase     string
	Attempts  int
	Permanent bool
	Err       error
}

func (e *ActivityError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("activity %s failed (%s, %d attempts): %v", e.Phase, kind, e.Attempts, e.Err)
}

func (e *ActivityError) Unwrap() []error {
	if e.Permanent {
		return []error{ErrPermanent, e.Err}
	}
	return []error{ErrTransient, e.Err}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string   { return c.err.Error() }
func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }

// Transient marks err as retryable by the gateway.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrTransient, err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrPermanent, err: err}
}

// Storage wraps a checkpoint or state store failure.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsTransient reports whether an error may succeed on retry. Explicitly
// permanent errors win over any transient cause.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
