// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package settlement turns payment intents into transactions signed
// together with the remote co-signer.
//
// A payment moves through the states drafted, submitted, co-signed,
// broadcast and settled, or ends in failed.  Drafting resolves the intent
// to an operation.  Submission hands it to the co-signer, which assigns a
// remote identifier and returns a partially signed transaction; the
// operation is stored at that point.  Co-signing adds the wallet's
// signature to every input and stores the transaction hash.  Broadcasting
// pushes the transaction to the co-signer, after which the operation is
// stored as settled.
//
// Each step commits its own local changes.  An operation that has a remote
// identifier is never submitted again: an interrupted payment is continued
// with ResumePayment.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/cosignwallet/entitydb"
	"github.com/btcsuite/cosignwallet/keychain"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/projection"
	"github.com/btcsuite/cosignwallet/session"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// StoredOperation is an operation as kept by the entity store.
type StoredOperation = entitydb.Entity[ledger.Operation]

// OperationStore keeps the operations of the wallet.
type OperationStore interface {
	Upsert(ctx context.Context, sess *session.Session,
		e *StoredOperation) (*StoredOperation, error)

	FetchByRemoteID(ctx context.Context,
		remoteID int64) (*StoredOperation, error)

	ReplaceAll(ctx context.Context, sess *session.Session,
		entities []*StoredOperation) ([]*StoredOperation, error)
}

// ContactStore keeps the contacts the user can pay.  A contact's remote
// identifier is the contact's user identifier.
type ContactStore interface {
	Upsert(ctx context.Context, sess *session.Session,
		e *entitydb.Entity[ledger.Contact]) (
		*entitydb.Entity[ledger.Contact], error)

	FetchByRemoteID(ctx context.Context,
		remoteID int64) (*entitydb.Entity[ledger.Contact], error)
}

// HardwareWalletStore keeps the paired hardware wallets.
type HardwareWalletStore interface {
	FetchByRemoteID(ctx context.Context,
		remoteID int64) (*entitydb.Entity[ledger.HardwareWallet], error)
}

// HardwareWalletStates reports the derivation state of a hardware wallet.
type HardwareWalletStates interface {
	// NextAddress returns the next unused receiving address of the
	// device and its derivation path.
	NextAddress(ctx context.Context,
		hw *entitydb.Entity[ledger.HardwareWallet]) (string, string,
		error)
}

// SwapQuote is a negotiated submarine swap and the on-chain amount that
// funds it.
type SwapQuote struct {
	Swap   *ledger.SubmarineSwap
	Amount ledger.BitcoinAmount
	Fee    ledger.BitcoinAmount
}

// SwapNegotiator negotiates the submarine swap paying an invoice.
type SwapNegotiator interface {
	NegotiateSwap(ctx context.Context, invoice string) (*SwapQuote, error)
}

// ProjectionCache keeps the last balance projection.
type ProjectionCache interface {
	Get(ctx context.Context) (fn.Option[projection.BalanceProjection],
		error)

	Set(ctx context.Context, p projection.BalanceProjection) error
}

// Config holds the collaborators of an Engine.
type Config struct {
	// Ledger is the client of the remote co-signer.
	Ledger ledger.Client

	// Keys signs for the wallet.
	Keys keychain.KeyService

	Operations      OperationStore
	Contacts        ContactStore
	HardwareWallets HardwareWalletStore
	Projections     ProjectionCache

	// HardwareWalletStates is required to pay to hardware wallets.
	HardwareWalletStates HardwareWalletStates

	// Swaps is required to pay invoices.
	Swaps SwapNegotiator

	ChainParams *chaincfg.Params

	// RelayFeePerKb is the relay fee used for the dust check.  It
	// defaults to txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount
}

// Engine settles payments.  It is safe for concurrent use.
type Engine struct {
	cfg Config

	// contactMtx serializes the allocation of contact addresses.
	contactMtx sync.Mutex
}

// NewEngine creates a settlement engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Ledger == nil:
		return nil, errors.New("settlement: missing ledger client")
	case cfg.Keys == nil:
		return nil, errors.New("settlement: missing key service")
	case cfg.Operations == nil:
		return nil, errors.New("settlement: missing operation store")
	case cfg.Projections == nil:
		return nil, errors.New("settlement: missing projection cache")
	case cfg.ChainParams == nil:
		return nil, errors.New("settlement: missing chain params")
	}

	if cfg.RelayFeePerKb == 0 {
		cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}

	return &Engine{cfg: cfg}, nil
}

// SubmitPayment drafts the operation for intent, submits it to the
// co-signer, co-signs and broadcasts its transaction and returns the
// settled operation.  Every failure is a *PaymentError.
func (e *Engine) SubmitPayment(ctx context.Context, sess *session.Session,
	intent Intent) (*StoredOperation, error) {

	if err := session.Validate(sess); err != nil {
		return nil, &PaymentError{State: ledger.StatusDrafted, Err: err}
	}

	op, err := e.draft(ctx, sess, intent)
	if err != nil {
		return nil, &PaymentError{
			State:     ledger.StatusDrafted,
			Operation: op,
			Err:       err,
		}
	}

	log.Infof("Submitting %v", op)

	created, err := e.cfg.Ledger.SubmitOperation(ctx, op)
	if err != nil {
		return nil, &PaymentError{
			State:     ledger.StatusDrafted,
			Operation: op,
			Err:       err,
		}
	}

	stored, packet, err := e.recordSubmitted(ctx, sess, op, created)
	if err != nil {
		return nil, err
	}

	return e.settle(ctx, sess, stored, packet)
}

// ResumePayment continues a payment interrupted after its submission.  It
// never submits the operation again.  A settled operation is returned as
// is.
func (e *Engine) ResumePayment(ctx context.Context, sess *session.Session,
	remoteID int64) (*StoredOperation, error) {

	if err := session.Validate(sess); err != nil {
		return nil, err
	}

	stored, err := e.cfg.Operations.FetchByRemoteID(ctx, remoteID)
	if err != nil {
		return nil, fmt.Errorf("resume payment %d: %w", remoteID, err)
	}

	op := &stored.Payload
	switch op.Status {
	case ledger.StatusSettled:
		return stored, nil

	case ledger.StatusFailed:
		return nil, &PaymentError{
			State:     ledger.StatusFailed,
			RemoteID:  stored.RemoteID,
			Operation: op,
			Err: fmt.Errorf("%w: %s", ErrPaymentFailed,
				op.FailureReason),
		}

	case ledger.StatusSubmitted, ledger.StatusCoSigned:

	default:
		return nil, &PaymentError{
			State:     op.Status,
			RemoteID:  stored.RemoteID,
			Operation: op,
			Err:       ErrNotResumable,
		}
	}

	log.Infof("Resuming %v with remote id %d", op, remoteID)

	packet, err := decodePSBT(op.PSBT)
	if err != nil {
		return nil, &PaymentError{
			State:     op.Status,
			RemoteID:  stored.RemoteID,
			Operation: op,
			Err:       err,
		}
	}

	return e.settle(ctx, sess, stored, packet)
}

// ApplyRemoteUpdate records a change the co-signer reported for an
// operation.  The status only ever moves forward: an update to an earlier
// or an unreachable status keeps the stored one.
func (e *Engine) ApplyRemoteUpdate(ctx context.Context, sess *session.Session,
	update *ledger.OperationUpdate) (*StoredOperation, error) {

	if err := session.Validate(sess); err != nil {
		return nil, err
	}

	stored, err := e.cfg.Operations.FetchByRemoteID(ctx, update.RemoteID)
	if err != nil {
		return nil, err
	}

	op := &stored.Payload
	if update.Status != op.Status {
		if op.Status.CanAdvanceTo(update.Status) {
			log.Debugf("Operation %d moved from %v to %v",
				update.RemoteID, op.Status, update.Status)
			op.Status = update.Status
		} else {
			log.Warnf("Ignoring move of operation %d from %v "+
				"to %v", update.RemoteID, op.Status,
				update.Status)
		}
	}

	op.Confirmations = update.Confirmations
	if update.SettlementRef != "" {
		op.SettlementRef = update.SettlementRef
	}
	if update.Swap != nil {
		op.Swap = update.Swap
	}
	if op.Status.IsTerminal() {
		op.PSBT = nil
	}

	stored, err = e.cfg.Operations.Upsert(ctx, sess, stored)
	if err != nil {
		return nil, err
	}

	update.Projection.WhenSome(func(p projection.BalanceProjection) {
		e.setProjection(ctx, p)
	})

	return stored, nil
}

// FetchReplaceOperations replaces the stored operations with those the
// co-signer knows.
func (e *Engine) FetchReplaceOperations(ctx context.Context,
	sess *session.Session) ([]*StoredOperation, error) {

	if err := session.Validate(sess); err != nil {
		return nil, err
	}

	remote, err := e.cfg.Ledger.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	entities := make([]*StoredOperation, 0, len(remote))
	for _, r := range remote {
		entities = append(entities, &StoredOperation{
			RemoteID: fn.Some(r.RemoteID),
			Payload:  *r.Operation,
		})
	}

	stored, err := e.cfg.Operations.ReplaceAll(ctx, sess, entities)
	if err != nil {
		return nil, err
	}

	log.Infof("Replaced local operations with %d remote ones",
		len(stored))

	return stored, nil
}

// BalanceProjection returns the cached balance projection, or none if
// there is none or it may be stale.  The caller then asks the co-signer
// for a fresh one.
func (e *Engine) BalanceProjection(
	ctx context.Context) (fn.Option[projection.BalanceProjection], error) {

	return e.cfg.Projections.Get(ctx)
}

// Balance returns the total balance of the cached projection, if it is
// valid.
func (e *Engine) Balance(ctx context.Context) (fn.Option[btcutil.Amount],
	error) {

	p, err := e.BalanceProjection(ctx)
	if err != nil {
		return fn.None[btcutil.Amount](), err
	}

	balance := fn.None[btcutil.Amount]()
	p.WhenSome(func(p projection.BalanceProjection) {
		balance = fn.Some(p.TotalBalance())
	})

	return balance, nil
}

// setProjection caches p.  A failure only costs a refetch, so it is
// logged.
func (e *Engine) setProjection(ctx context.Context,
	p projection.BalanceProjection) {

	if err := e.cfg.Projections.Set(ctx, p); err != nil {
		log.Errorf("Unable to cache balance projection: %v", err)
	}
}
