// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"errors"
	"fmt"

	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnsupportedIntentVariant is returned for an intent that isn't
	// one of the payment channels the engine knows.
	ErrUnsupportedIntentVariant = errors.New("unsupported payment intent")

	// ErrSigningKeyMismatch is returned when the key derived for an
	// input differs from the key the co-signer expects, or when no key
	// of this wallet is declared for an input.
	ErrSigningKeyMismatch = errors.New("signing key mismatch")

	// ErrUnsignableInput is returned for an input the wallet can't sign:
	// anything but a segwit v0 script spend with its previous output.
	ErrUnsignableInput = errors.New("input can't be signed")

	// ErrDustAmount is returned for a payment whose output would be
	// dust.
	ErrDustAmount = errors.New("amount below dust limit")

	// ErrInvalidAddress is returned for a receiving address that can't
	// be decoded for the active network.
	ErrInvalidAddress = errors.New("invalid receiving address")

	// ErrHardwareWalletNotPaired is returned when paying to a hardware
	// wallet that is no longer paired.
	ErrHardwareWalletNotPaired = errors.New("hardware wallet not paired")

	// ErrInvalidSwapQuote is returned when the swap negotiator answers
	// without a swap.
	ErrInvalidSwapQuote = errors.New("invalid swap quote")

	// ErrMissingTransaction is returned when the co-signer accepts an
	// on-chain operation without the transaction to co-sign.
	ErrMissingTransaction = errors.New("co-signer returned no " +
		"transaction")

	// ErrNotResumable is returned when asked to resume an operation
	// that is not waiting for the co-signature or the broadcast.
	ErrNotResumable = errors.New("operation is not resumable")

	// ErrPaymentFailed is returned when asked to resume an operation
	// that already failed.
	ErrPaymentFailed = errors.New("payment failed")
)

// PaymentError is returned by every failed payment.  It tells the caller
// how far the payment got and whether the co-signer knows about it, so the
// payment is never submitted twice.
type PaymentError struct {
	// State is the state the operation is left in: StatusFailed if it
	// was recorded as failed, otherwise the last state reached.
	State ledger.OperationStatus

	// RemoteID is the identifier the co-signer assigned, if the
	// operation was submitted.
	RemoteID fn.Option[int64]

	// Operation is the operation as far as it was resolved.  It is nil
	// if the intent couldn't be resolved.
	Operation *ledger.Operation

	// Resumable is set when the payment can be continued with
	// ResumePayment using RemoteID.
	Resumable bool

	Err error
}

// Error satisfies the error interface.
func (e *PaymentError) Error() string {
	str := fmt.Sprintf("payment failed after %v", e.State)
	e.RemoteID.WhenSome(func(id int64) {
		str += fmt.Sprintf(" (remote id %d)", id)
	})
	return str + ": " + e.Err.Error()
}

// Unwrap returns the cause.
func (e *PaymentError) Unwrap() error {
	return e.Err
}
