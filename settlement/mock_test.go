// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosignwallet/entitydb"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/stretchr/testify/mock"
)

// mockLedger is a mock implementation of the ledger.Client interface.
type mockLedger struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockLedger implements the
// ledger.Client interface.
var _ ledger.Client = (*mockLedger)(nil)

// SubmitOperation implements the ledger.Client interface.
func (m *mockLedger) SubmitOperation(ctx context.Context,
	op *ledger.Operation) (*ledger.OperationCreated, error) {

	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.OperationCreated), args.Error(1)
}

// PushTransaction implements the ledger.Client interface.
func (m *mockLedger) PushTransaction(ctx context.Context, tx *wire.MsgTx,
	remoteID int64) (*ledger.TransactionPushed, error) {

	args := m.Called(ctx, tx, remoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.TransactionPushed), args.Error(1)
}

// FetchAll implements the ledger.Client interface.
func (m *mockLedger) FetchAll(
	ctx context.Context) ([]*ledger.RemoteOperation, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.RemoteOperation), args.Error(1)
}

// mockSwaps is a mock implementation of the SwapNegotiator interface.
type mockSwaps struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockSwaps implements the
// SwapNegotiator interface.
var _ SwapNegotiator = (*mockSwaps)(nil)

// NegotiateSwap implements the SwapNegotiator interface.
func (m *mockSwaps) NegotiateSwap(ctx context.Context,
	invoice string) (*SwapQuote, error) {

	args := m.Called(ctx, invoice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SwapQuote), args.Error(1)
}

// mockStates is a mock implementation of the HardwareWalletStates
// interface.
type mockStates struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockStates implements the
// HardwareWalletStates interface.
var _ HardwareWalletStates = (*mockStates)(nil)

// NextAddress implements the HardwareWalletStates interface.
func (m *mockStates) NextAddress(ctx context.Context,
	hw *entitydb.Entity[ledger.HardwareWallet]) (string, string, error) {

	args := m.Called(ctx, hw)
	return args.String(0), args.String(1), args.Error(2)
}
