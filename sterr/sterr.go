// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package sterr defines Stride's error taxonomy. Every failure that
// crosses a package boundary is classified into one of five kinds so
// callers can decide between retrying, skipping, and aborting without
// string matching:
//
//   - InvalidArgument: bad shape, selection out of bounds, unknown
//     variable, type mismatch. Reported at the call site; engine state
//     is unchanged.
//   - IOFailure: a transport refused, a file was unwritable, an
//     endpoint was unreachable. The step being flushed is marked
//     partial.
//   - Consistency: peers disagreed on a global value, a duplicate
//     block appeared in a step, or the footer contradicts a step
//     record. Writers abort the step, readers skip it.
//   - NotSupported: unknown operator on the reader, unsupported type
//     width, or a required transport parameter is missing.
//   - Timeout: a step did not become available within the deadline.
//     Non-fatal; the caller retries.
//
// Classification travels with the error through fmt.Errorf("%w")
// wrapping, so intermediate layers can add context freely.
package sterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindUnknown is the zero Kind; errors without a Stride
	// classification report it.
	KindUnknown Kind = iota
	// KindInvalidArgument marks caller mistakes: bad shapes,
	// out-of-bounds selections, type mismatches.
	KindInvalidArgument
	// KindIOFailure marks transport and storage failures.
	KindIOFailure
	// KindConsistency marks cross-peer disagreement and index
	// corruption detected by a collective.
	KindConsistency
	// KindNotSupported marks missing operators, unsupported widths,
	// and absent required parameters.
	KindNotSupported
	// KindTimeout marks deadline expiry on a blocking operation.
	KindTimeout
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindIOFailure:
		return "io failure"
	case KindConsistency:
		return "consistency"
	case KindNotSupported:
		return "not supported"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed
// ("engine.Put", "coordinator.Gather") and Err carries the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Sentinel conditions. BeginStep distinguishes stream exhaustion and
// step unavailability from genuine failures through these; they are
// matched with errors.Is.
var (
	// ErrEndOfStream reports that the writer closed the stream and no
	// further steps will arrive. Not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNotReady reports that no step was available within the
	// BeginStep deadline. The caller retries.
	ErrNotReady = errors.New("step not ready")

	// ErrTypeMismatch reports that the element type of a Put/Get call
	// does not match the variable's declared type.
	ErrTypeMismatch = errors.New("element type mismatch")

	// ErrUnknownVariable reports an inquire or operation against a
	// name that is not declared in the IO.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrStepPartial reports that a step's flush failed partway; the
	// consolidated footer will omit the step.
	ErrStepPartial = errors.New("step is partial")
)

// KindOf extracts the classification of err, or KindUnknown if the
// error ever passed through this package. The sentinels above carry
// implicit kinds: ErrNotReady is a Timeout, ErrTypeMismatch and
// ErrUnknownVariable are InvalidArgument, ErrStepPartial is an
// IOFailure.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	switch {
	case errors.Is(err, ErrNotReady):
		return KindTimeout
	case errors.Is(err, ErrTypeMismatch), errors.Is(err, ErrUnknownVariable):
		return KindInvalidArgument
	case errors.Is(err, ErrStepPartial):
		return KindIOFailure
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap classifies an existing error. Returns nil when err is nil so
// call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidArgumentf builds a classified InvalidArgument error.
func InvalidArgumentf(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// IOFailuref builds a classified IOFailure error.
func IOFailuref(op, format string, args ...any) error {
	return &Error{Kind: KindIOFailure, Op: op, Err: fmt.Errorf(format, args...)}
}

// Consistencyf builds a classified Consistency error.
func Consistencyf(op, format string, args ...any) error {
	return &Error{Kind: KindConsistency, Op: op, Err: fmt.Errorf(format, args...)}
}

// NotSupportedf builds a classified NotSupported error.
func NotSupportedf(op, format string, args ...any) error {
	return &Error{Kind: KindNotSupported, Op: op, Err: fmt.Errorf(format, args...)}
}

// Timeoutf builds a classified Timeout error.
func Timeoutf(op, format string, args ...any) error {
	return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf(format, args...)}
}
