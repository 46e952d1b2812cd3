// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// ErrRemoteRejected is matched by every *RemoteRejectedError.
var ErrRemoteRejected = errors.New("operation rejected by co-signer")

// RejectCode identifies why the co-signer refused an operation.
type RejectCode int

// These constants are the rejection reasons reported by the co-signer.
const (
	// RejectInvalidOperation is a generic refusal.
	RejectInvalidOperation RejectCode = iota

	// RejectInsufficientFunds means the wallet can't cover amount and
	// fee.
	RejectInsufficientFunds

	// RejectInvalidAddress means the receiving address can't be used.
	RejectInvalidAddress

	// RejectInvalidReceiver means the receiving user can't be paid.
	RejectInvalidReceiver

	// RejectAmountBelowDust means the amount would create a dust output.
	RejectAmountBelowDust

	// RejectExchangeRateWindowTooOld means the operation was priced with
	// an expired exchange rate snapshot.
	RejectExchangeRateWindowTooOld

	// RejectExpiredInputs means the inputs chosen for the operation are
	// no longer spendable.
	RejectExpiredInputs
)

var rejectCodeStrings = map[RejectCode]string{
	RejectInvalidOperation:         "RejectInvalidOperation",
	RejectInsufficientFunds:        "RejectInsufficientFunds",
	RejectInvalidAddress:           "RejectInvalidAddress",
	RejectInvalidReceiver:          "RejectInvalidReceiver",
	RejectAmountBelowDust:          "RejectAmountBelowDust",
	RejectExchangeRateWindowTooOld: "RejectExchangeRateWindowTooOld",
	RejectExpiredInputs:            "RejectExpiredInputs",
}

// String returns the RejectCode as a human-readable name.
func (c RejectCode) String() string {
	if s := rejectCodeStrings[c]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", int(c))
}

// RemoteRejectedError is returned when the co-signer reports an operation
// as invalid.  The reason is shown to the user verbatim.
type RemoteRejectedError struct {
	Code   RejectCode
	Reason string
}

// Error satisfies the error interface.
func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("%v: %v (%v)", ErrRemoteRejected, e.Reason, e.Code)
}

// Unwrap makes errors.Is(err, ErrRemoteRejected) match.
func (e *RemoteRejectedError) Unwrap() error {
	return ErrRemoteRejected
}

// NewRemoteRejectedError creates a RemoteRejectedError.
func NewRemoteRejectedError(code RejectCode,
	reason string) *RemoteRejectedError {

	return &RemoteRejectedError{Code: code, Reason: reason}
}
