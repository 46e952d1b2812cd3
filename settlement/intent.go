// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"context"

	"github.com/btcsuite/cosignwallet/ledger"
)

// Intent is a payment the user wants to make.  The set of intents is
// closed: ToPeer, ToAddress, ToHardwareWallet and ToInvoice.
type Intent interface {
	// accept hands the intent to the resolver method for its kind.
	accept(ctx context.Context, r intentResolver) (*ledger.Operation,
		error)
}

// intentResolver turns each kind of intent into an unsigned operation.  A
// new kind of intent needs a method here, so every resolver must handle
// it before the package compiles again.
type intentResolver interface {
	resolvePeer(ctx context.Context, i *ToPeer) (*ledger.Operation, error)

	resolveAddress(ctx context.Context,
		i *ToAddress) (*ledger.Operation, error)

	resolveHardwareWallet(ctx context.Context,
		i *ToHardwareWallet) (*ledger.Operation, error)

	resolveInvoice(ctx context.Context,
		i *ToInvoice) (*ledger.Operation, error)
}

// Payment holds what every on-chain intent states.
type Payment struct {
	Amount ledger.BitcoinAmount

	// Fee is the miner fee the user accepted when preparing the
	// payment.
	Fee ledger.BitcoinAmount

	Description string

	// ExchangeRateWindowID identifies the exchange rate snapshot the
	// amount was priced with.
	ExchangeRateWindowID int64
}

// ToPeer pays a contact at the next address derived from the contact's
// published key.
type ToPeer struct {
	Payment

	// ContactUserID is the remote user identifier of the contact.
	ContactUserID int64
}

func (i *ToPeer) accept(ctx context.Context,
	r intentResolver) (*ledger.Operation, error) {

	if i == nil {
		return nil, ErrUnsupportedIntentVariant
	}
	return r.resolvePeer(ctx, i)
}

// ToAddress pays an external address typed or scanned by the user.
type ToAddress struct {
	Payment

	Address string
}

func (i *ToAddress) accept(ctx context.Context,
	r intentResolver) (*ledger.Operation, error) {

	if i == nil {
		return nil, ErrUnsupportedIntentVariant
	}
	return r.resolveAddress(ctx, i)
}

// ToHardwareWallet moves funds to the next unused address of a paired
// hardware wallet.
type ToHardwareWallet struct {
	Payment

	// HardwareWalletID is the remote identifier of the device.
	HardwareWalletID int64
}

func (i *ToHardwareWallet) accept(ctx context.Context,
	r intentResolver) (*ledger.Operation, error) {

	if i == nil {
		return nil, ErrUnsupportedIntentVariant
	}
	return r.resolveHardwareWallet(ctx, i)
}

// ToInvoice pays a lightning invoice through a submarine swap.  The amount
// is set by the swap.
type ToInvoice struct {
	Invoice     string
	Description string

	ExchangeRateWindowID int64
}

func (i *ToInvoice) accept(ctx context.Context,
	r intentResolver) (*ledger.Operation, error) {

	if i == nil {
		return nil, ErrUnsupportedIntentVariant
	}
	return r.resolveInvoice(ctx, i)
}
