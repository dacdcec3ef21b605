// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the structured errors returned by the compilation service.
//
// Every error carries a canonical Code (the XLA/TensorFlow error code) and a Kind, which tells
// which check failed. Errors are created with a stack trace (see github.com/pkg/errors) and
// can be wrapped freely: KindOf and CodeOf recover them from any wrapped error.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the failures the service distinguishes.
type Kind int

const (
	// Unknown is the Kind of errors not created by this package.
	Unknown Kind = iota

	// ArgumentCountMismatch: number of argument layouts differs from the number of program parameters.
	ArgumentCountMismatch

	// InvalidShape: a shape (or its layout) is internally inconsistent.
	InvalidShape

	// ArgumentShapeMismatch: an argument layout is not compatible with the declared parameter.
	ArgumentShapeMismatch

	// ResultShapeMismatch: the requested result layout is not compatible with the declared result.
	ResultShapeMismatch

	// InvalidBuildOptions: build options are inconsistent (e.g. zero partitions).
	InvalidBuildOptions

	// ExecutorUnavailable: the execution backend can't supply an executor for the device ordinal.
	ExecutorUnavailable

	// InvalidPlacement: the placement policy can't map the replica/computation pair to a device.
	InvalidPlacement

	// ReplicaOutOfRange: a replica number is beyond the buffers registered under a handle.
	ReplicaOutOfRange

	// HandleNotFound: no buffers were ever registered under the handle.
	HandleNotFound

	// HandleDeallocated: the buffers of the handle were already unregistered.
	HandleDeallocated

	// CompilationFailed: the backend compiler failed.
	CompilationFailed
)

var kindNames = []string{
	"Unknown",
	"ArgumentCountMismatch",
	"InvalidShape",
	"ArgumentShapeMismatch",
	"ResultShapeMismatch",
	"InvalidBuildOptions",
	"ExecutorUnavailable",
	"InvalidPlacement",
	"ReplicaOutOfRange",
	"HandleNotFound",
	"HandleDeallocated",
	"CompilationFailed",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is the structured error: canonical code, kind and a human-readable message.
type Error struct {
	code    Code
	kind    Kind
	message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the canonical error code.
func (e *Error) Code() Code { return e.code }

// Kind returns which check failed.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the message without the code prefix.
func (e *Error) Message() string { return e.message }

// Errorf creates a new structured error with a stack trace attached.
func Errorf(code Code, kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{code: code, kind: kind, message: fmt.Sprintf(format, args...)})
}

// InvalidArgumentf creates an INVALID_ARGUMENT error of the given kind.
func InvalidArgumentf(kind Kind, format string, args ...any) error {
	return Errorf(INVALID_ARGUMENT, kind, format, args...)
}

// NotFoundf creates a NOT_FOUND error of the given kind.
func NotFoundf(kind Kind, format string, args ...any) error {
	return Errorf(NOT_FOUND, kind, format, args...)
}

// Internalf creates an INTERNAL error of the given kind.
func Internalf(kind Kind, format string, args ...any) error {
	return Errorf(INTERNAL, kind, format, args...)
}

// FromError returns the *Error wrapped in err, or nil if there is none.
func FromError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the Kind of the structured error wrapped in err, or Unknown.
func KindOf(err error) Kind {
	if e := FromError(err); e != nil {
		return e.kind
	}
	return Unknown
}

// CodeOf returns the Code of the structured error wrapped in err.
// It returns OK for a nil error and UNKNOWN for errors not created by this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e := FromError(err); e != nil {
		return e.code
	}
	return UNKNOWN
}

// Is reports whether err wraps a structured error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithKind wraps err as a structured error of the given kind, keeping its message.
// If err is already a structured error it is returned with an extra message only.
func WithKind(err error, code Code, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if FromError(err) != nil {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.WithStack(&Error{code: code, kind: kind, message: fmt.Sprintf(format, args...) + ": " + err.Error()})
}

// Recast returns a new structured error of the given code and kind, whose message is the
// formatted message followed by the message of err. Unlike WithKind, the kind of a structured
// err is replaced.
func Recast(err error, code Code, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	cause := err.Error()
	if e := FromError(err); e != nil {
		cause = e.message
	}
	return errors.WithStack(&Error{code: code, kind: kind, message: fmt.Sprintf(format, args...) + ": " + cause})
}
