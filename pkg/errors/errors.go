// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// Error kinds the core distinguishes per the error handling design. All are
// sentinel values; call sites wrap them with fmt.Errorf("...: %w", ErrX) and
// callers test with errors.Is.
var (
	// ErrTracingUnavailable means no debugfs/tracefs mountpoint exists, or
	// the per-tool instance directory could not be created. Fatal at startup.
	ErrTracingUnavailable = stdliberrors.New("tracing facility unavailable")

	// ErrEventFormatMissing means a compiled-in event has no kernel format
	// descriptor. Non-fatal; the event is skipped with a warning.
	ErrEventFormatMissing = stdliberrors.New("event format descriptor missing")

	// ErrEventDisabled means the event was left disabled by configuration.
	ErrEventDisabled = stdliberrors.New("event disabled by configuration")

	// ErrNoEventsAvailable means zero events were subscribed successfully.
	// Fatal at startup.
	ErrNoEventsAvailable = stdliberrors.New("no events available")

	// ErrDecodeError means a decoder detected invalid field widths or
	// inconsistent lengths. The record is skipped; ingestion continues.
	ErrDecodeError = stdliberrors.New("decode error")

	// ErrPersistFailed means a single-row insert failed. Logged and
	// skipped; never fatal.
	ErrPersistFailed = stdliberrors.New("persist failed")

	// ErrOfflineFailed means the kernel refused a page/row offline request.
	ErrOfflineFailed = stdliberrors.New("offline request failed")

	// ErrUnsupportedCpu means the CPU vendor/family is unrecognized. The
	// machine-check decoder falls back to architectural-only decoding;
	// never fatal.
	ErrUnsupportedCpu = stdliberrors.New("unsupported cpu")
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}
