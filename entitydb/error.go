// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entitydb

import "fmt"

// ErrorCode identifies a kind of error.  Every ErrorCode is itself an error,
// so callers can match a StoreError with errors.Is(err, ErrNotFound).
type ErrorCode int

// These constants are used to identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the StoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrNotFound indicates that the requested entity is not stored.
	ErrNotFound

	// ErrDuplicateRemoteID indicates that more than one row carries the
	// same remote identifier.  This breaks the table invariant and is
	// never resolved automatically.
	ErrDuplicateRemoteID

	// ErrRemoteIDChanged indicates an attempt to change or clear the
	// remote identifier of a stored entity.
	ErrRemoteIDChanged

	// ErrEncoding indicates a payload that could not be serialized or
	// deserialized.
	ErrEncoding
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:          "ErrDatabase",
	ErrNotFound:          "ErrNotFound",
	ErrDuplicateRemoteID: "ErrDuplicateRemoteID",
	ErrRemoteIDChanged:   "ErrRemoteIDChanged",
	ErrEncoding:          "ErrEncoding",
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

// StoreError provides a single type for errors that can happen during
// entity store operation.
type StoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorCode of e.
func (e StoreError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.ErrorCode
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{ErrorCode: c, Description: desc, Err: err}
}
