// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/projection"
	"github.com/btcsuite/cosignwallet/session"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// recordSubmitted stores the operation accepted by the co-signer together
// with its remote identifier and partially signed transaction.
func (e *Engine) recordSubmitted(ctx context.Context, sess *session.Session,
	op *ledger.Operation, created *ledger.OperationCreated) (
	*StoredOperation, *psbt.Packet, error) {

	remoteID := fn.Some(created.RemoteID)

	mergeResolved(op, created.Operation)
	op.Status = ledger.StatusSubmitted

	if created.PSBT != nil {
		raw, err := encodePSBT(created.PSBT)
		if err != nil {
			return nil, nil, &PaymentError{
				State:     ledger.StatusSubmitted,
				RemoteID:  remoteID,
				Operation: op,
				Err:       err,
			}
		}
		op.PSBT = raw
	}

	stored, err := e.cfg.Operations.Upsert(
		context.WithoutCancel(ctx), sess, &StoredOperation{
			RemoteID: remoteID,
			Payload:  *op,
		},
	)
	if err != nil {
		return nil, nil, &PaymentError{
			State:     ledger.StatusSubmitted,
			RemoteID:  remoteID,
			Operation: op,
			Err:       err,
		}
	}

	log.Debugf("Operation %v submitted with remote id %d", op.RequestID,
		created.RemoteID)

	// The projection is cached after the operation is stored, so it is
	// valid at the operation's remote identifier.
	e.setProjection(context.WithoutCancel(ctx), created.Projection)

	return stored, created.PSBT, nil
}

// mergeResolved copies the fields the co-signer resolved onto op.
func mergeResolved(op, resolved *ledger.Operation) {
	if resolved == nil {
		return
	}

	if op.Receiver == nil && resolved.Receiver != nil {
		receiver := *resolved.Receiver
		op.Receiver = &receiver
	}
	if resolved.Fee.Satoshis != 0 {
		op.Fee = resolved.Fee
	}
	if resolved.Swap != nil {
		op.Swap = resolved.Swap
	}
	if resolved.ReceiverAddress != "" && op.ReceiverAddress == "" {
		op.ReceiverAddress = resolved.ReceiverAddress
	}
}

// settle takes a submitted or co-signed operation to settled.
func (e *Engine) settle(ctx context.Context, sess *session.Session,
	stored *StoredOperation, packet *psbt.Packet) (*StoredOperation,
	error) {

	op := &stored.Payload
	if stored.RemoteID.IsNone() {
		return nil, &PaymentError{
			State:     op.Status,
			Operation: op,
			Err:       ErrNotResumable,
		}
	}
	remoteID := stored.RemoteID.UnwrapOr(0)

	if packet == nil {
		// Only a swap can be funded by the co-signer alone.  Any other
		// operation needs the wallet's signature.
		if op.Swap == nil {
			return nil, e.fail(
				ctx, sess, stored, ErrMissingTransaction,
			)
		}

		op.Status = ledger.StatusSettled
		if op.SettlementRef == "" {
			op.SettlementRef = op.Swap.Reference
		}
		return e.store(ctx, sess, stored, ledger.StatusSubmitted)
	}

	if op.Status == ledger.StatusSubmitted {
		tx, err := e.coSign(packet)
		if err != nil {
			return nil, e.fail(ctx, sess, stored, err)
		}

		raw, err := encodePSBT(packet)
		if err != nil {
			return nil, e.fail(ctx, sess, stored, err)
		}

		op.Status = ledger.StatusCoSigned
		op.SettlementRef = tx.TxHash().String()
		op.PSBT = raw

		stored, err = e.store(ctx, sess, stored, ledger.StatusSubmitted)
		if err != nil {
			return nil, err
		}
		op = &stored.Payload

		log.Debugf("Co-signed operation %d as %s", remoteID,
			op.SettlementRef)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, e.fail(ctx, sess, stored, err)
	}

	// Cancellation before the push leaves the operation co-signed.
	if err := ctx.Err(); err != nil {
		return nil, &PaymentError{
			State:     ledger.StatusCoSigned,
			RemoteID:  stored.RemoteID,
			Operation: op,
			Resumable: true,
			Err:       err,
		}
	}

	pushed, err := e.cfg.Ledger.PushTransaction(ctx, tx, remoteID)
	switch {
	case errors.Is(err, ledger.ErrRemoteRejected):
		return nil, e.fail(ctx, sess, stored, err)

	case err != nil:
		return nil, &PaymentError{
			State:     ledger.StatusCoSigned,
			RemoteID:  stored.RemoteID,
			Operation: op,
			Resumable: true,
			Err:       err,
		}
	}

	op.Status = ledger.StatusSettled
	op.PSBT = nil

	stored, err = e.store(ctx, sess, stored, ledger.StatusBroadcast)
	if err != nil {
		return nil, err
	}

	pushed.Projection.WhenSome(func(p projection.BalanceProjection) {
		e.setProjection(ctx, p)
	})

	log.Infof("Settled %v with remote id %d as %s", &stored.Payload,
		remoteID, stored.Payload.SettlementRef)

	return stored, nil
}

// store writes the operation through the entity store.  The write is not
// tied to the caller's cancellation: progress made with the co-signer is
// always recorded.  On failure the payment is reported as stuck at reached
// and can be resumed from there.
func (e *Engine) store(ctx context.Context, sess *session.Session,
	stored *StoredOperation, reached ledger.OperationStatus) (
	*StoredOperation, error) {

	updated, err := e.cfg.Operations.Upsert(
		context.WithoutCancel(ctx), sess, stored,
	)
	if err != nil {
		return nil, &PaymentError{
			State:     reached,
			RemoteID:  stored.RemoteID,
			Operation: &stored.Payload,
			Resumable: reached != ledger.StatusDrafted,
			Err:       err,
		}
	}

	return updated, nil
}

// fail records the operation as failed and returns the payment error for
// cause.
func (e *Engine) fail(ctx context.Context, sess *session.Session,
	stored *StoredOperation, cause error) error {

	op := &stored.Payload
	reached := op.Status

	if errors.Is(cause, ErrSigningKeyMismatch) {
		log.Criticalf("Operation %v with remote id %d: %v", op.RequestID,
			stored.RemoteID.UnwrapOr(0), cause)
	} else {
		log.Errorf("Operation %v with remote id %d failed: %v",
			op.RequestID, stored.RemoteID.UnwrapOr(0), cause)
	}

	op.Status = ledger.StatusFailed
	op.FailureReason = cause.Error()
	op.PSBT = nil

	// The error reports the stored state, which is still the reached one
	// if the failure can't be recorded.
	state := ledger.StatusFailed
	_, err := e.cfg.Operations.Upsert(
		context.WithoutCancel(ctx), sess, stored,
	)
	if err != nil {
		log.Errorf("Unable to record failure of operation %v: %v",
			op.RequestID, err)
		state = reached
	}

	return &PaymentError{
		State:     state,
		RemoteID:  stored.RemoteID,
		Operation: op,
		Err:       cause,
	}
}
