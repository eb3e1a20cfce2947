package domain

import "sync/atomic"

// ErrorInfo is the request-scoped, refcounted error map shared across every
// handle of one request. Its TryClaim method gives exactly one caller the
// right to emit the error reply — this is the "atomic reply token" described
// as the fix for the original implementation's duplicate-reply race.
type ErrorInfo struct {
	refs    int32
	claimed int32

	kind    ErrorKind
	message string
	httpRC  int
	set     int32
}

// NewErrorInfo returns a fresh, unclaimed ErrorInfo with one reference held
// by the caller.
func NewErrorInfo() *ErrorInfo {
	return &ErrorInfo{refs: 1}
}

// AddRef increments the refcount; called whenever a new processor/handle
// takes a reference to the shared error-info.
func (e *ErrorInfo) AddRef() *ErrorInfo {
	atomic.AddInt32(&e.refs, 1)
	return e
}

// Release decrements the refcount and reports whether this was the last
// reference (the caller that observes true is responsible for final
// teardown of anything the error-info pinned).
func (e *ErrorInfo) Release() bool {
	return atomic.AddInt32(&e.refs, -1) == 0
}

// Set records the first failure observed for this request. Concurrent
// Set calls from different goroutines are safe; only the first one sticks.
func (e *ErrorInfo) Set(kind ErrorKind, message string) {
	if atomic.CompareAndSwapInt32(&e.set, 0, 1) {
		e.kind = kind
		e.message = message
	}
}

// SetHTTPStatus overrides the status code the outer layer should report,
// e.g. 404 for missing source or 429 for too-soon playlist refresh.
func (e *ErrorInfo) SetHTTPStatus(code int) {
	e.httpRC = code
}

// NonEmpty reports whether any component has recorded a failure.
func (e *ErrorInfo) NonEmpty() bool {
	return atomic.LoadInt32(&e.set) != 0
}

// Kind and Message return the first-recorded failure; both are zero values
// if NonEmpty is false.
func (e *ErrorInfo) Kind() ErrorKind { return e.kind }
func (e *ErrorInfo) Message() string { return e.message }

// HTTPStatus returns the explicitly set status code, or the ErrorKind's
// default mapping if none was set.
func (e *ErrorInfo) HTTPStatus() int {
	if e.httpRC != 0 {
		return e.httpRC
	}
	return e.kind.HTTPStatus()
}

// TryClaim atomically flips the reply token from unclaimed to claimed.
// Only the caller for which TryClaim returns true may emit the reply;
// every other caller must skip emission. This models spec.md §9's
// "error-info single-emit" redesign note.
func (e *ErrorInfo) TryClaim() bool {
	return atomic.CompareAndSwapInt32(&e.claimed, 0, 1)
}

// Claimed reports whether some caller has already claimed the reply token,
// without attempting to claim it.
func (e *ErrorInfo) Claimed() bool {
	return atomic.LoadInt32(&e.claimed) != 0
}
