// Package errors provides the backend-neutral error taxonomy shared by every
// storage backend and streaming component.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a backend-neutral error classification. Every backend translator
// maps its native errors onto one of these; internal components branch on
// Kind, never on a backend's native error type.
type Kind string

const (
	NotFound         Kind = "not_found"
	AlreadyExists    Kind = "already_exists"
	NotADirectory    Kind = "not_a_directory"
	IsADirectory     Kind = "is_a_directory"
	PermissionDenied Kind = "permission_denied"
	Misconfigured    Kind = "misconfigured"
	BucketNotFound   Kind = "bucket_not_found"
	NameTooLong      Kind = "name_too_long"
	ObjectChanged    Kind = "object_changed"
	InvalidArgument  Kind = "invalid_argument"
	InvalidSeek      Kind = "invalid_seek"
	InvalidState     Kind = "invalid_state"
	Unsupported      Kind = "unsupported"
	SameFile         Kind = "same_file"
	Unknown          Kind = "unknown"
)

// Error is the concrete error type returned at component boundaries. It
// always carries the offending path and, when translated from a backend
// error, the wrapped cause.
type Error struct {
	Kind Kind
	Path string
	Op   string

	// Endpoint and Code are populated by object-store translators so
	// user-visible failures can name the endpoint and native error code,
	// per spec.md 7.
	Endpoint string
	Code     string

	Cause error

	// Retryable is set by the backend's should-retry predicate, not by
	// this package: a Kind alone doesn't say whether a given occurrence
	// is transient.
	Retryable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	if e.Endpoint != "" || e.Code != "" {
		msg += fmt.Sprintf(" (endpoint=%s code=%s)", e.Endpoint, e.Code)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target carries the same Kind. Two *Error values with
// different paths or causes still compare equal under errors.Is when their
// Kind matches, so callers can write errors.Is(err, errors.New(NotFound, "", "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error with the given kind, op, and path.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Cause: cause}
}

// WithEndpoint attaches object-store endpoint/native-code context and
// returns the receiver for chaining.
func (e *Error) WithEndpoint(endpoint, code string) *Error {
	e.Endpoint = endpoint
	e.Code = code
	return e
}

// WithRetryable marks the error as transient or not and returns the
// receiver for chaining.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, else Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Translator is the shape of a function mapping a backend-native error to a
// neutral *Error, with unrecognized errors becoming Unknown wrapping the
// cause. The fs, httpfs and s3 backends each use their own translate
// function rather than a value of this type; stdio has none.
type Translator func(op, path string, err error) *Error
