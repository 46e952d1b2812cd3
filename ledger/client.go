// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosignwallet/projection"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// OperationCreated is the co-signer's answer to a submitted operation.
type OperationCreated struct {
	// RemoteID is the identifier assigned to the operation.
	RemoteID int64

	// Operation carries the fields the co-signer resolved, such as the
	// receiver profile and the direction.
	Operation *Operation

	// PSBT is the transaction still missing the wallet's signatures.  It
	// is nil if the co-signer already holds a fully signed transaction.
	PSBT *psbt.Packet

	// Projection is the balance projection after the operation.
	Projection projection.BalanceProjection
}

// TransactionPushed is the co-signer's acknowledgment of a pushed
// transaction.
type TransactionPushed struct {
	// Projection is an updated balance projection, if the co-signer sent
	// one.
	Projection fn.Option[projection.BalanceProjection]
}

// RemoteOperation is an operation as known by the co-signer.
type RemoteOperation struct {
	RemoteID  int64
	Operation *Operation
}

// OperationUpdate is a change to an operation reported by the co-signer.
type OperationUpdate struct {
	RemoteID      int64
	Status        OperationStatus
	Confirmations uint32

	// SettlementRef is set when the co-signer learned the final
	// transaction hash.
	SettlementRef string

	Swap *SubmarineSwap

	// Projection is the balance projection after the update.
	Projection fn.Option[projection.BalanceProjection]
}

// Client executes calls against the authoritative remote service.  Calls
// may block; the context carries the caller's deadline.
type Client interface {
	// SubmitOperation asks the co-signer to accept an operation.  It
	// returns a *RemoteRejectedError if the operation is invalid.
	SubmitOperation(ctx context.Context,
		op *Operation) (*OperationCreated, error)

	// PushTransaction hands the fully signed transaction of the operation
	// identified by remoteID to the co-signer for publication.
	PushTransaction(ctx context.Context, tx *wire.MsgTx,
		remoteID int64) (*TransactionPushed, error)

	// FetchAll returns every operation of the user.
	FetchAll(ctx context.Context) ([]*RemoteOperation, error)
}
