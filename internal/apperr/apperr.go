// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell bad input from a broken
// web service or a malformed document.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransport
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error for op.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Data wraps err as a data error for op.
func Data(op string, err error) error {
	return &Error{Kind: KindData, Op: op, Err: err}
}

// kinded is implemented by errors that carry their own kind, such as
// webservice.TransportError.
type kinded interface {
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
