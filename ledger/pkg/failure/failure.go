// Package failure provides the classed error type returned by escrow and
// ledger components when an invocation is rejected.
package failure

import (
	"errors"
	"fmt"
)

// Class groups rejections by the kind of precondition that failed.
type Class int

const (
	// ClassUnknown is an unclassified error.
	ClassUnknown Class = iota
	// ClassValidation indicates malformed input: bad ids, oversized strings, zero amounts.
	ClassValidation
	// ClassAuthorization indicates the caller may not perform the transition.
	ClassAuthorization
	// ClassState indicates the entity status forbids the operation.
	ClassState
	// ClassBalance indicates a creator, escrow or pool lacks funds.
	ClassBalance
	// ClassTemporal indicates a cooldown or time lock has not elapsed.
	ClassTemporal
	// ClassArithmetic indicates a checked operation overflowed.
	ClassArithmetic
	// ClassNotFound indicates the addressed entity does not exist.
	ClassNotFound
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassState:
		return "state"
	case ClassBalance:
		return "balance"
	case ClassTemporal:
		return "temporal"
	case ClassArithmetic:
		return "arithmetic"
	case ClassNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a named rejection. Components declare their own Error values and
// compare against them with errors.Is.
type Error struct {
	Class   Class
	Code    string
	Message string
}

// New returns a rejection with the given class, stable code and message.
func New(class Class, code, message string) *Error {
	return &Error{Class: class, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code and class so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Class == t.Class
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// ClassOf returns the class of err, or ClassUnknown if err carries none.
func ClassOf(err error) Class {
	if fe, ok := As(err); ok {
		return fe.Class
	}
	return ClassUnknown
}
