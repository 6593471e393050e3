// Package protoerr defines the error taxonomy shared by the transport,
// protocol engine, and file-transfer layers.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine-level failure so the retry policy and callers
// can tell retryable conditions from terminal ones without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportError
	KindTimeout
	KindInitializationFailed
	KindModeTransitionFailed
	KindAcknowledgmentMissing
	KindRawPasteUnsupported
	KindProtocolViolation
	KindDeviceExecutionError
	KindInvalidArgument
	KindObjectDisposed
)

func (k Kind) String() string {
	switch k {
	case KindTransportError:
		return "TransportError"
	case KindTimeout:
		return "Timeout"
	case KindInitializationFailed:
		return "InitializationFailed"
	case KindModeTransitionFailed:
		return "ModeTransitionFailed"
	case KindAcknowledgmentMissing:
		return "AcknowledgmentMissing"
	case KindRawPasteUnsupported:
		return "RawPasteUnsupported"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindDeviceExecutionError:
		return "DeviceExecutionError"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindObjectDisposed:
		return "ObjectDisposed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the engine. It wraps an
// underlying cause (if any) and is compared against sentinels below via
// errors.Is, following the same pattern as errBinaryRejected in the
// teacher's connection manager.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel for the same Kind, so callers can
// write errors.Is(err, protoerr.Timeout) without knowing the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Sentinels for errors.Is comparisons against a bare Kind, mirroring the
// teacher's errBinaryRejected / ErrWriteNotSupported style.
var (
	TransportError        = &Error{Kind: KindTransportError}
	Timeout               = &Error{Kind: KindTimeout}
	InitializationFailed  = &Error{Kind: KindInitializationFailed}
	ModeTransitionFailed  = &Error{Kind: KindModeTransitionFailed}
	AcknowledgmentMissing = &Error{Kind: KindAcknowledgmentMissing}
	RawPasteUnsupported   = &Error{Kind: KindRawPasteUnsupported}
	ProtocolViolation     = &Error{Kind: KindProtocolViolation}
	DeviceExecutionError  = &Error{Kind: KindDeviceExecutionError}
	InvalidArgument       = &Error{Kind: KindInvalidArgument}
	ObjectDisposed        = &Error{Kind: KindObjectDisposed}
)

// KindOf extracts the Kind from err, walking wrapped errors, and returns
// KindUnknown if err does not carry one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the retry policy in §4.B.7 should re-drive the
// call for this error kind.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransportError, KindTimeout, KindModeTransitionFailed, KindAcknowledgmentMissing, KindProtocolViolation:
		return true
	default:
		return false
	}
}
