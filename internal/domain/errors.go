package domain

import (
	"errors"
	"fmt"
)

// Error es el error tipado de las operaciones del gate.
// Op identifica la operación ("session.StartVerification"), Reason la categoría
// y Err la causa original (solo para logs).
type Error struct {
	Op     string
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, domain.ErrExpired) comparando solo la razón.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Op == "" && t.Reason == e.Reason
	}
	return false
}

// E construye un *Error.
func E(op string, reason Reason, cause error) *Error {
	return &Error{Op: op, Reason: reason, Err: cause}
}

// Sentinels para errors.Is.
var (
	ErrInvalidFormat     = &Error{Reason: ReasonInvalidFormat}
	ErrInvalidIdentity   = &Error{Reason: ReasonInvalidIdentity}
	ErrAlreadyActive     = &Error{Reason: ReasonAlreadyActive}
	ErrNotFound          = &Error{Reason: ReasonNotFound}
	ErrExpired           = &Error{Reason: ReasonExpired}
	ErrInvalidTransition = &Error{Reason: ReasonInvalidTransition}
	ErrSystem            = &Error{Reason: ReasonSystemError}
	ErrBanned            = &Error{Reason: ReasonBanned}
	ErrPendingReview     = &Error{Reason: ReasonPendingReview}
)

// ReasonOf extrae la razón de un error; errores ajenos al dominio son SYSTEM_ERROR.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonSystemError
}
