// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import "fmt"

// OperationStatus is the settlement state of an operation.  The non-failed
// states are ordered: an operation only ever moves forward through them.
type OperationStatus uint8

const (
	// StatusDrafted is a locally resolved operation not yet known to the
	// co-signer.
	StatusDrafted OperationStatus = iota

	// StatusSubmitted is an operation accepted by the co-signer, which
	// assigned it a remote identifier and returned a partially signed
	// transaction.
	StatusSubmitted

	// StatusCoSigned is an operation whose transaction carries every
	// required signature.
	StatusCoSigned

	// StatusBroadcast is an operation whose transaction was accepted by
	// the co-signer for publication.
	StatusBroadcast

	// StatusSettled is a finalized operation.
	StatusSettled

	// StatusFailed is an operation that will never settle.
	StatusFailed
)

var statusStrings = map[OperationStatus]string{
	StatusDrafted:   "drafted",
	StatusSubmitted: "submitted",
	StatusCoSigned:  "co-signed",
	StatusBroadcast: "broadcast",
	StatusSettled:   "settled",
	StatusFailed:    "failed",
}

// String returns the status as a human-readable name.
func (s OperationStatus) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown status (%d)", uint8(s))
}

// IsTerminal reports whether no further transition is possible.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// CanAdvanceTo reports whether an operation in status s may move to next.
// Failed is reachable from every non-terminal status, every other move must
// go forward.
func (s OperationStatus) CanAdvanceTo(next OperationStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	if _, ok := statusStrings[next]; !ok {
		return false
	}
	return next > s
}

// Direction tells whether value leaves or enters the wallet.
type Direction uint8

const (
	// DirectionOutgoing spends from the wallet.
	DirectionOutgoing Direction = iota

	// DirectionIncoming pays into the wallet.
	DirectionIncoming

	// DirectionCyclical moves funds from the wallet to itself.
	DirectionCyclical
)

// String returns the direction as a human-readable name.
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	case DirectionCyclical:
		return "cyclical"
	default:
		return fmt.Sprintf("unknown direction (%d)", uint8(d))
	}
}
