// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package diffsync

import "fmt"

// ErrorCode identifies a kind of error.  Every ErrorCode is itself an error,
// so callers can match a SyncError with errors.Is.
type ErrorCode int

// These constants are used to identify a specific SyncError.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrScanTimestampReused indicates a scan timestamp that is not
	// greater than the last completed scan of the collection.  This is a
	// programming error of the caller.
	ErrScanTimestampReused

	// ErrFingerprint indicates that an item could not be fingerprinted.
	ErrFingerprint
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:            "ErrDatabase",
	ErrScanTimestampReused: "ErrScanTimestampReused",
	ErrFingerprint:         "ErrFingerprint",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error satisfies the error interface.
func (e ErrorCode) Error() string {
	return e.String()
}

// SyncError provides a single type for errors that can happen while
// reconciling a collection.
type SyncError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e SyncError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorCode of e.
func (e SyncError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.ErrorCode
}

func syncError(c ErrorCode, desc string, err error) SyncError {
	return SyncError{ErrorCode: c, Description: desc, Err: err}
}
