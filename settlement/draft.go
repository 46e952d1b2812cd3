// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/cosignwallet/keychain"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/session"
	"github.com/google/uuid"
)

// ErrChannelUnavailable is returned for an intent whose collaborators were
// not configured.
var ErrChannelUnavailable = errors.New("payment channel not configured")

// draft resolves intent to an unsigned operation.
func (e *Engine) draft(ctx context.Context, sess *session.Session,
	intent Intent) (*ledger.Operation, error) {

	if intent == nil {
		return nil, ErrUnsupportedIntentVariant
	}

	op, err := intent.accept(ctx, &resolver{e: e, sess: sess})
	if err != nil {
		return nil, err
	}

	sender := sess.Profile
	op.RequestID = uuid.New()
	op.Sender = &sender
	op.Status = ledger.StatusDrafted
	op.CreatedAt = sess.Now()

	return op, nil
}

// resolver is the intentResolver of one drafting.
type resolver struct {
	e    *Engine
	sess *session.Session
}

// A compile time check to ensure resolver handles every intent.
var _ intentResolver = (*resolver)(nil)

func (r *resolver) resolvePeer(ctx context.Context,
	i *ToPeer) (*ledger.Operation, error) {

	if r.e.cfg.Contacts == nil {
		return nil, fmt.Errorf("%w: contacts", ErrChannelUnavailable)
	}

	// Two payments to the same contact must not get the same address.
	r.e.contactMtx.Lock()
	defer r.e.contactMtx.Unlock()

	contact, err := r.e.cfg.Contacts.FetchByRemoteID(ctx, i.ContactUserID)
	if err != nil {
		return nil, err
	}

	index := contact.Payload.LastDerivationIndex + 1
	addr, err := keychain.DeriveAddress(
		contact.Payload.PublicKey, index, r.e.cfg.ChainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("derive address of contact %d: %w",
			i.ContactUserID, err)
	}

	basePath, err := keychain.ParsePath(contact.Payload.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	path := keychain.FormatPath(append(basePath, index))

	if err := r.e.checkDust(addr, i.Amount.Satoshis); err != nil {
		return nil, err
	}

	contact.Payload.LastDerivationIndex = index
	if _, err := r.e.cfg.Contacts.Upsert(ctx, r.sess, contact); err != nil {
		return nil, err
	}

	receiver := contact.Payload.Profile
	return &ledger.Operation{
		Direction:            ledger.DirectionOutgoing,
		Receiver:             &receiver,
		ReceiverAddress:      addr.EncodeAddress(),
		ReceiverAddressPath:  path,
		Amount:               i.Amount,
		Fee:                  i.Fee,
		Description:          i.Description,
		ExchangeRateWindowID: i.ExchangeRateWindowID,
	}, nil
}

func (r *resolver) resolveAddress(_ context.Context,
	i *ToAddress) (*ledger.Operation, error) {

	addr, err := r.e.decodeAddress(i.Address)
	if err != nil {
		return nil, err
	}

	if err := r.e.checkDust(addr, i.Amount.Satoshis); err != nil {
		return nil, err
	}

	return &ledger.Operation{
		Direction:            ledger.DirectionOutgoing,
		IsExternal:           true,
		ReceiverAddress:      addr.EncodeAddress(),
		Amount:               i.Amount,
		Fee:                  i.Fee,
		Description:          i.Description,
		ExchangeRateWindowID: i.ExchangeRateWindowID,
	}, nil
}

func (r *resolver) resolveHardwareWallet(ctx context.Context,
	i *ToHardwareWallet) (*ledger.Operation, error) {

	cfg := &r.e.cfg
	if cfg.HardwareWallets == nil || cfg.HardwareWalletStates == nil {
		return nil, fmt.Errorf("%w: hardware wallets",
			ErrChannelUnavailable)
	}

	hw, err := cfg.HardwareWallets.FetchByRemoteID(ctx, i.HardwareWalletID)
	if err != nil {
		return nil, err
	}
	if !hw.Payload.IsPaired {
		return nil, fmt.Errorf("%w: %s %s", ErrHardwareWalletNotPaired,
			hw.Payload.Brand, hw.Payload.Label)
	}

	address, path, err := cfg.HardwareWalletStates.NextAddress(ctx, hw)
	if err != nil {
		return nil, err
	}

	addr, err := r.e.decodeAddress(address)
	if err != nil {
		return nil, err
	}
	if err := r.e.checkDust(addr, i.Amount.Satoshis); err != nil {
		return nil, err
	}

	return &ledger.Operation{
		Direction:            ledger.DirectionCyclical,
		ReceiverAddress:      addr.EncodeAddress(),
		ReceiverAddressPath:  path,
		HardwareWalletID:     i.HardwareWalletID,
		Amount:               i.Amount,
		Fee:                  i.Fee,
		Description:          i.Description,
		ExchangeRateWindowID: i.ExchangeRateWindowID,
	}, nil
}

func (r *resolver) resolveInvoice(ctx context.Context,
	i *ToInvoice) (*ledger.Operation, error) {

	if r.e.cfg.Swaps == nil {
		return nil, fmt.Errorf("%w: invoices", ErrChannelUnavailable)
	}

	quote, err := r.e.cfg.Swaps.NegotiateSwap(ctx, i.Invoice)
	if err != nil {
		return nil, err
	}
	if quote == nil || quote.Swap == nil {
		return nil, fmt.Errorf("%w: no swap negotiated for invoice",
			ErrInvalidSwapQuote)
	}

	addr, err := r.e.decodeAddress(quote.Swap.FundingAddress)
	if err != nil {
		return nil, err
	}
	if err := r.e.checkDust(addr, quote.Amount.Satoshis); err != nil {
		return nil, err
	}

	return &ledger.Operation{
		Direction:            ledger.DirectionOutgoing,
		IsExternal:           true,
		Amount:               quote.Amount,
		Fee:                  quote.Fee,
		Description:          i.Description,
		ExchangeRateWindowID: i.ExchangeRateWindowID,
		Swap:                 quote.Swap,
	}, nil
}

// decodeAddress decodes an address of the active network.
func (e *Engine) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, e.cfg.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address,
			err)
	}
	if !addr.IsForNet(e.cfg.ChainParams) {
		return nil, fmt.Errorf("%w %q: not a %s address",
			ErrInvalidAddress, address, e.cfg.ChainParams.Name)
	}

	return addr, nil
}

// checkDust fails if paying amount to addr would create a dust output.
func (e *Engine) checkDust(addr btcutil.Address,
	amount btcutil.Amount) error {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	output := wire.NewTxOut(int64(amount), pkScript)
	if txrules.IsDustOutput(output, e.cfg.RelayFeePerKb) {
		return fmt.Errorf("%w: %v to %v", ErrDustAmount, amount, addr)
	}

	return nil
}
